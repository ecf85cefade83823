package mq

import (
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// partitionKey возвращает ключ партиционирования Kafka.
//
// Keyed-сообщения партиционируются по своему ключу, что даёт порядок
// "один ключ, один производитель" и позволяет компактировать топик.
// Телеметрия без ключа получает UUID сообщения, поэтому никогда не
// перезаписывается.
func partitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(metadataKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// NewKafkaQueue создаёт Queue поверх Kafka (watermill + sarama).
// Группа потребителей превращается в consumer group "orbit-<group>".
func NewKafkaQueue(brokers []string, logger *slog.Logger) (*WatermillQueue, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)
	marshaler := kafka.NewWithPartitioningMarshaler(partitionKey)

	saramaPublisherConfig := kafka.DefaultSaramaSyncPublisherConfig()
	saramaPublisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	newSubscriber := func(group string) (message.Subscriber, error) {
		saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
		saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

		sub, err := kafka.NewSubscriber(
			kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           marshaler,
				OverwriteSaramaConfig: saramaSubscriberConfig,
				ConsumerGroup:         "orbit-" + group,
				OTELEnabled:           true,
			},
			wmLogger,
		)
		if err != nil {
			return nil, fmt.Errorf("create kafka subscriber: %w", err)
		}
		return sub, nil
	}

	return NewWatermillQueue(publisher, newSubscriber, logger), nil
}
