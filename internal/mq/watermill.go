package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cenkalti/backoff/v4"
)

// Метаданные watermill-сообщения.
const (
	metadataKey  = "orbit_key"
	metadataType = "orbit_type"
)

// SubscriberFactory создаёт подписчика для группы потребителей.
type SubscriberFactory func(group string) (message.Subscriber, error)

// WatermillQueue — Queue поверх watermill Publisher/Subscriber.
// Используется для Kafka и для in-memory GoChannel.
type WatermillQueue struct {
	publisher     message.Publisher
	newSubscriber SubscriberFactory
	logger        *slog.Logger

	mu          sync.Mutex
	subscribers []message.Subscriber
	closed      bool
}

// NewWatermillQueue создаёт очередь.
func NewWatermillQueue(pub message.Publisher, newSub SubscriberFactory, logger *slog.Logger) *WatermillQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermillQueue{
		publisher:     pub,
		newSubscriber: newSub,
		logger:        logger,
	}
}

// NewMemoryQueue создаёт in-process очередь на GoChannel.
//
// Сообщения сохраняются (Persistent), поэтому подписчик, подключившийся
// позже публикации, всё равно их получит. Группы потребителей не
// разделяют сообщения: каждый Consume получает все сообщения топика.
func NewMemoryQueue(logger *slog.Logger) *WatermillQueue {
	if logger == nil {
		logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1000,
			Persistent:          true,
		},
		watermill.NewSlogLogger(logger),
	)
	return NewWatermillQueue(pubSub, func(string) (message.Subscriber, error) {
		return pubSub, nil
	}, logger)
}

// Publish публикует сообщение. Ключ уходит в метаданные
// (Kafka использует его как ключ партиционирования).
func (q *WatermillQueue) Publish(ctx context.Context, topic Topic, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	wm := message.NewMessage(msg.ID, body)
	wm.SetContext(ctx)
	wm.Metadata.Set(metadataKey, msg.Key)
	wm.Metadata.Set(metadataType, string(msg.Type))

	if err := q.publisher.Publish(string(topic), wm); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	q.logger.Debug("published message",
		"topic", topic,
		"message_id", msg.ID,
		"type", msg.Type,
		"key", msg.Key,
	)
	return nil
}

// Consume подписывается на топик и обрабатывает сообщения до отмены ctx.
// Закрытие канала подписки без отмены ctx приводит к переподписке.
func (q *WatermillQueue) Consume(ctx context.Context, topic Topic, group string, handler Handler) error {
	sub, err := q.subscriber(group)
	if err != nil {
		return err
	}

	resubscribe := backoff.NewExponentialBackOff()
	resubscribe.MaxInterval = 30 * time.Second
	resubscribe.MaxElapsedTime = 0

	for {
		messages, err := sub.Subscribe(ctx, string(topic))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := resubscribe.NextBackOff()
			q.logger.Warn("subscribe failed", "topic", topic, "group", group, "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
		resubscribe.Reset()

		q.logger.Info("consumer started", "topic", topic, "group", group)

		for wm := range messages {
			q.handle(ctx, topic, wm, handler)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if q.isClosed() {
			return ErrClosed
		}
		q.logger.Warn("subscription closed, resubscribing", "topic", topic, "group", group)
	}
}

func (q *WatermillQueue) subscriber(group string) (message.Subscriber, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	sub, err := q.newSubscriber(group)
	if err != nil {
		return nil, fmt.Errorf("create subscriber for %s: %w", group, err)
	}
	q.subscribers = append(q.subscribers, sub)
	return sub, nil
}

func (q *WatermillQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *WatermillQueue) handle(ctx context.Context, topic Topic, wm *message.Message, handler Handler) {
	var msg Message
	if err := json.Unmarshal(wm.Payload, &msg); err != nil {
		q.logger.Error("failed to unmarshal message",
			"topic", topic,
			"message_id", wm.UUID,
			"error", err,
		)
		wm.Ack()
		return
	}

	if err := handler(ctx, &msg); err != nil {
		if errors.Is(err, ErrDrop) {
			q.logger.Warn("message dropped",
				"topic", topic,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err,
			)
			wm.Ack()
			return
		}
		q.logger.Error("handler failed",
			"topic", topic,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		wm.Nack()
		return
	}
	wm.Ack()
}

// Close закрывает издателя и всех подписчиков.
func (q *WatermillQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	subs := q.subscribers
	q.subscribers = nil
	q.mu.Unlock()

	var errs []error
	if err := q.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	for _, sub := range subs {
		if pub, ok := sub.(message.Publisher); ok && pub == q.publisher {
			// GoChannel: издатель и подписчик — один объект
			continue
		}
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}
