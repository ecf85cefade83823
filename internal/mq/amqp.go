package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Топология RabbitMQ:
//
//	<topic> (fanout)
//	└── <topic>.<group>   одна очередь на группу потребителей
//	        DLX: orbit.dlq → <topic>.dlq
//
// Ключ сообщения передаётся в заголовке и в поле конверта.
const (
	exchangeDLQ = "orbit.dlq"
	headerKey   = "x-orbit-key"
)

// AMQPQueue — Queue поверх RabbitMQ.
type AMQPQueue struct {
	conn     *Connection
	logger   *slog.Logger
	prefetch int
}

// NewAMQPQueue создаёт очередь поверх готового соединения.
func NewAMQPQueue(conn *Connection, logger *slog.Logger, prefetch int) *AMQPQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AMQPQueue{conn: conn, logger: logger, prefetch: prefetch}
}

func queueName(topic Topic, group string) string {
	return fmt.Sprintf("%s.%s", topic, group)
}

// declareTopic объявляет exchange топика и DLQ.
func declareTopic(ch *amqp.Channel, topic Topic) error {
	if err := ch.ExchangeDeclare(string(topic), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", topic, err)
	}
	if err := ch.ExchangeDeclare(exchangeDLQ, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchangeDLQ, err)
	}

	dlq := string(topic) + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, string(topic), exchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", dlq, err)
	}
	return nil
}

// declareGroup объявляет очередь группы и привязывает её к топику.
func declareGroup(ch *amqp.Channel, topic Topic, group string) (string, error) {
	if err := declareTopic(ch, topic); err != nil {
		return "", err
	}

	name := queueName(topic, group)
	args := amqp.Table{
		"x-dead-letter-exchange":    exchangeDLQ,
		"x-dead-letter-routing-key": string(topic),
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, "", string(topic), false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s: %w", name, err)
	}
	return name, nil
}

// Publish публикует сообщение в exchange топика.
func (q *AMQPQueue) Publish(ctx context.Context, topic Topic, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return q.conn.WithChannel(func(ch *amqp.Channel) error {
		if err := declareTopic(ch, topic); err != nil {
			return err
		}
		err := ch.PublishWithContext(ctx, string(topic), "", false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Headers:      amqp.Table{headerKey: msg.Key},
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}

		q.logger.Debug("published message",
			"topic", topic,
			"message_id", msg.ID,
			"type", msg.Type,
			"key", msg.Key,
		)
		return nil
	})
}

// Consume потребляет сообщения группы до отмены ctx.
// При обрыве канала ждёт переподключения и продолжает.
func (q *AMQPQueue) Consume(ctx context.Context, topic Topic, group string, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		reconnected := q.conn.Reconnected()
		err := q.consumeOnce(ctx, topic, group, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		q.logger.Warn("consumer interrupted, waiting for reconnect",
			"topic", topic,
			"group", group,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		}
	}
}

func (q *AMQPQueue) consumeOnce(ctx context.Context, topic Topic, group string, handler Handler) error {
	ch, err := q.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	name, err := declareGroup(ch, topic, group)
	if err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", name, err)
	}

	q.logger.Info("consumer started", "queue", name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed: %s", name)
			}
			q.handleDelivery(ctx, name, raw, handler)
		}
	}
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, queue string, raw amqp.Delivery, handler Handler) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		q.logger.Error("failed to unmarshal message",
			"queue", queue,
			"error", err,
			"body", string(raw.Body),
		)
		// некорректное сообщение уходит в DLQ
		_ = raw.Nack(false, false)
		return
	}

	if err := handler(ctx, &msg); err != nil {
		if errors.Is(err, ErrDrop) {
			q.logger.Warn("message dropped",
				"queue", queue,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err,
			)
			_ = raw.Ack(false)
			return
		}
		q.logger.Error("handler failed",
			"queue", queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		_ = raw.Nack(false, true)
		return
	}

	_ = raw.Ack(false)
}

// Close закрывает соединение.
func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}
