package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// Open создаёт Store по URL.
//
// Поддерживаемые схемы:
//   - postgres://, postgresql:// — PostgresStore (таблица создаётся при старте)
//   - redis://, rediss://        — RedisStore
//   - memory://                  — MemoryStore
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		pool, err := NewPool(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("store opened", "backend", "postgres", "host", u.Host)
		return s, nil

	case "redis", "rediss":
		s, err := NewRedisStore(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", "backend", "redis", "host", u.Host)
		return s, nil

	case "memory":
		logger.Info("store opened", "backend", "memory")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}
