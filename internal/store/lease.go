package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease — право одного scheduler'а обрабатывать ключ в течение TTL.
type Lease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Leaser выдаёт leases поверх Store.
//
// Lease не заменяет условную запись: он лишь снижает число конфликтов,
// когда несколько экземпляров scheduler'а видят один и тот же триггер.
type Leaser struct {
	store Store
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// NewLeaser создаёт Leaser. Пустой owner заменяется случайным UUID.
func NewLeaser(s Store, owner string, ttl time.Duration) *Leaser {
	if owner == "" {
		owner = uuid.NewString()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Leaser{store: s, owner: owner, ttl: ttl, now: time.Now}
}

// Owner возвращает идентификатор владельца.
func (l *Leaser) Owner() string {
	return l.owner
}

func leaseKey(name string) string {
	return PrefixLease + name
}

// Acquire захватывает lease. Истёкший lease перехватывается. Действующий
// lease не продлевается даже своему владельцу: пока он жив, ключ занят.
func (l *Leaser) Acquire(ctx context.Context, name string) error {
	key := leaseKey(name)
	now := l.now()

	cur, version, err := Load[Lease](ctx, l.store, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load lease %s: %w", name, err)
	}
	if cur != nil && cur.ExpiresAt.After(now) {
		return ErrLeaseHeld
	}

	next := &Lease{Owner: l.owner, ExpiresAt: now.Add(l.ttl)}
	if _, err := Save(ctx, l.store, key, next, version); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrLeaseHeld
		}
		return fmt.Errorf("save lease %s: %w", name, err)
	}
	return nil
}

// Release освобождает lease, если он принадлежит нам. Повторный вызов безопасен.
func (l *Leaser) Release(ctx context.Context, name string) error {
	return l.ReleaseFor(ctx, name, l.owner)
}

// ReleaseFor освобождает lease владельца owner. Нужен, когда результат
// удалённого вычисления применяет не та реплика, что захватила lease.
func (l *Leaser) ReleaseFor(ctx context.Context, name, owner string) error {
	key := leaseKey(name)

	cur, version, err := Load[Lease](ctx, l.store, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load lease %s: %w", name, err)
	}
	if cur.Owner != owner {
		return nil
	}

	err = l.store.DeleteIf(ctx, key, version)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// Held проверяет, удерживает ли кто-либо действующий lease.
func (l *Leaser) Held(ctx context.Context, name string) (bool, string, error) {
	cur, _, err := Load[Lease](ctx, l.store, leaseKey(name))
	if errors.Is(err, ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if !cur.ExpiresAt.After(l.now()) {
		return false, "", nil
	}
	return true, cur.Owner, nil
}
