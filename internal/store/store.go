package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Record — версионированная запись хранилища.
type Record struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// Store — общее key-value хранилище с условной записью.
//
// Все изменения разделяемых сущностей (контексты триггеров, счётчики
// concurrency, окна composite, executions) выражаются через PutIf/DeleteIf.
// Атомарность гарантируется на уровне одного ключа.
type Store interface {
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// PutIf записывает value, если текущая версия равна version.
	// version == 0 — запись не должна существовать.
	// Возвращает новую версию или ErrConflict.
	PutIf(ctx context.Context, key string, value []byte, version int64) (int64, error)

	// DeleteIf удаляет запись, если текущая версия равна version.
	// Возвращает ErrNotFound или ErrConflict.
	DeleteIf(ctx context.Context, key string, version int64) error

	// List возвращает записи, ключи которых начинаются с prefix.
	List(ctx context.Context, prefix string) ([]Record, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error

	// Close освобождает ресурсы.
	Close() error
}

// Префиксы ключей.
const (
	PrefixExecution   = "execution/"
	PrefixTrigger     = "trigger/"
	PrefixConcurrency = "concurrency/"
	PrefixWindow      = "window/"
	PrefixLease       = "lease/"
)

// Load читает запись и декодирует JSON в T.
func Load[T any](ctx context.Context, s Store, key string) (*T, int64, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	var v T
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return nil, 0, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &v, rec.Version, nil
}

// Save кодирует v в JSON и записывает с проверкой версии.
func Save[T any](ctx context.Context, s Store, key string, v *T, version int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.PutIf(ctx, key, data, version)
}

// RetryPolicy — ограниченный retry с экспоненциальной задержкой
// для read-modify-write при конфликте версий.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy — 5 повторов, 10ms → 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Mutate выполняет read-modify-write над JSON-записью с retry при ErrConflict.
//
// fn получает текущее значение (nil, если записи нет) и возвращает новое.
// Возврат nil удаляет запись, возврат ErrUnchanged завершает без записи.
// fn может вызываться несколько раз — она не должна иметь побочных эффектов,
// кроме записи результата в захваченные переменные.
func Mutate[T any](ctx context.Context, s Store, key string, policy RetryPolicy, fn func(cur *T) (*T, error)) error {
	op := func() error {
		cur, version, err := Load[T](ctx, s, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}

		next, err := fn(cur)
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		switch {
		case next == nil && cur == nil:
			return nil
		case next == nil:
			err = s.DeleteIf(ctx, key, version)
			if errors.Is(err, ErrNotFound) {
				err = ErrConflict
			}
		default:
			_, err = Save(ctx, s, key, next, version)
		}

		if errors.Is(err, ErrConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, policy.backoff(ctx)); err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("mutate %s: retries exhausted: %w", key, err)
		}
		return err
	}
	return nil
}
