package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// Decision — решение лимитера для нового execution.
type Decision string

const (
	// Proceed — слот захвачен, execution может выполняться.
	Proceed Decision = "PROCEED"

	// Queue — лимит исчерпан, execution ждёт слот в QUEUED.
	Queue Decision = "QUEUE"

	// Reject — лимит исчерпан, execution завершается по политике (CANCEL/FAIL).
	Reject Decision = "REJECT"
)

// Limiter — счётчик выполняющихся executions на flow.
//
// Счётчик хранится в общем хранилище и меняется только условной записью,
// поэтому решения линеаризуемы между репликами scheduler'а.
type Limiter struct {
	store  store.Store
	logger *slog.Logger
	retry  store.RetryPolicy
	now    func() time.Time
}

// Config — конфигурация Limiter.
type Config struct {
	Store  store.Store
	Logger *slog.Logger

	// Retry — повторы при конфликте версий.
	Retry store.RetryPolicy

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Limiter.
func New(cfg Config) *Limiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = store.DefaultRetryPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		store:  cfg.Store,
		logger: cfg.Logger,
		retry:  cfg.Retry,
		now:    cfg.Now,
	}
}

// Key возвращает ключ счётчика flow в хранилище.
func Key(flow domain.FlowKey) string {
	return store.PrefixConcurrency + flow.String()
}

// TryAcquire решает судьбу нового execution.
//
// Проверка и захват слота выполняются одной условной записью.
// Повторный вызов для того же executionID возвращает прежнее решение
// (Proceed для занявшего слот, Queue для стоящего в очереди).
func (l *Limiter) TryAcquire(ctx context.Context, flow domain.FlowKey, def *domain.ConcurrencyDef, executionID string, createdAt time.Time) (Decision, error) {
	var (
		decision Decision
		attempt  int
	)

	err := store.Mutate(ctx, l.store, Key(flow), l.retry, func(cur *domain.ConcurrencyLimit) (*domain.ConcurrencyLimit, error) {
		if attempt++; attempt > 1 {
			telemetry.StoreConflicts.WithLabelValues("concurrency").Inc()
		}
		if cur == nil {
			cur = domain.NewConcurrencyLimit(flow.String(), def.MaxConcurrent(), def.Policy())
		}
		cur.MaxConcurrent = def.MaxConcurrent()
		cur.OverflowPolicy = def.Policy()

		switch {
		case cur.Holds(executionID):
			decision = Proceed
			return nil, store.ErrUnchanged
		case cur.IsQueued(executionID):
			decision = Queue
			return nil, store.ErrUnchanged
		case cur.HasCapacity():
			cur.Occupy(executionID, l.now())
			decision = Proceed
			return cur, nil
		case cur.OverflowPolicy == domain.OverflowQueue:
			cur.Enqueue(executionID, createdAt)
			decision = Queue
			return cur, nil
		default:
			decision = Reject
			return nil, store.ErrUnchanged
		}
	})
	if err != nil {
		return "", fmt.Errorf("acquire slot for %s: %w", flow, err)
	}

	l.logger.Debug("concurrency decision",
		"flow", flow.String(),
		"execution_id", executionID,
		"decision", decision,
	)
	return decision, nil
}

// Release освобождает слот execution и передаёт свободные слоты самым
// старым executions из очереди (FIFO по времени создания).
//
// Идемпотентен: повторный вызов для того же executionID ничего не меняет
// и возвращает released=false. Execution, завершившийся в очереди
// (например, убитый до старта), просто удаляется из неё.
func (l *Limiter) Release(ctx context.Context, flow domain.FlowKey, executionID string) (promoted []string, released bool, err error) {
	var attempt int

	err = store.Mutate(ctx, l.store, Key(flow), l.retry, func(cur *domain.ConcurrencyLimit) (*domain.ConcurrencyLimit, error) {
		if attempt++; attempt > 1 {
			telemetry.StoreConflicts.WithLabelValues("concurrency").Inc()
		}
		promoted, released = nil, false
		if cur == nil {
			return nil, store.ErrUnchanged
		}

		switch {
		case cur.Vacate(executionID):
			released = true
		case cur.Dequeue(executionID):
		default:
			return nil, store.ErrUnchanged
		}

		promoted = l.fill(cur)
		return cur, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("release slot for %s: %w", flow, err)
	}

	if released || len(promoted) > 0 {
		l.logger.Debug("concurrency slot released",
			"flow", flow.String(),
			"execution_id", executionID,
			"promoted", promoted,
		)
	}
	return promoted, released, nil
}

// Promote занимает свободные слоты executions из очереди. Нужен, когда
// лимит flow был увеличен и слоты освободились без терминальных переходов.
func (l *Limiter) Promote(ctx context.Context, flow domain.FlowKey, def *domain.ConcurrencyDef) ([]string, error) {
	var promoted []string

	err := store.Mutate(ctx, l.store, Key(flow), l.retry, func(cur *domain.ConcurrencyLimit) (*domain.ConcurrencyLimit, error) {
		promoted = nil
		if cur == nil || len(cur.Queued) == 0 {
			return nil, store.ErrUnchanged
		}
		cur.MaxConcurrent = def.MaxConcurrent()
		cur.OverflowPolicy = def.Policy()

		promoted = l.fill(cur)
		if len(promoted) == 0 {
			return nil, store.ErrUnchanged
		}
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("promote queued for %s: %w", flow, err)
	}
	return promoted, nil
}

func (l *Limiter) fill(cur *domain.ConcurrencyLimit) []string {
	var promoted []string
	now := l.now()
	for cur.HasCapacity() {
		head, ok := cur.PopOldest()
		if !ok {
			break
		}
		cur.Occupy(head.ExecutionID, now)
		promoted = append(promoted, head.ExecutionID)
	}
	return promoted
}

// Snapshot возвращает текущее состояние счётчика (nil, если его нет).
func (l *Limiter) Snapshot(ctx context.Context, flow domain.FlowKey) (*domain.ConcurrencyLimit, error) {
	limit, _, err := store.Load[domain.ConcurrencyLimit](ctx, l.store, Key(flow))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return limit, nil
}
