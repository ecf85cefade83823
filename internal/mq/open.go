package mq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Open создаёт Queue по URL.
//
//   - amqp://, amqps://   — RabbitMQ
//   - kafka://h1:9092,h2  — Kafka
//   - memory://           — GoChannel в памяти процесса
func Open(_ context.Context, rawURL string, logger *slog.Logger) (Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}

	switch u.Scheme {
	case "amqp", "amqps":
		conn, err := NewConnection(rawURL, logger)
		if err != nil {
			return nil, err
		}
		return NewAMQPQueue(conn, logger, 10), nil

	case "kafka":
		return NewKafkaQueue(strings.Split(u.Host, ","), logger)

	case "memory":
		return NewMemoryQueue(logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}
