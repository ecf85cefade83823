package scheduler

import (
	"context"

	"github.com/shaiso/Orbit/internal/domain"
)

// Concurrency возвращает счётчик concurrency flow (nil, если executions
// ещё не создавались).
func (s *Scheduler) Concurrency(ctx context.Context, flow domain.FlowKey) (*domain.ConcurrencyLimit, error) {
	return s.limiter.Snapshot(ctx, flow)
}

// Window возвращает открытое окно composite (nil, если окна нет).
func (s *Scheduler) Window(ctx context.Context, flow domain.FlowKey, compositeID string) (*domain.MultipleConditionWindow, error) {
	return s.windows.Get(ctx, flow, compositeID)
}

// Ping проверяет доступность хранилища.
func (s *Scheduler) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
