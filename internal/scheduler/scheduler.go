package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Orbit/internal/audit"
	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/concurrency"
	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
	"github.com/shaiso/Orbit/internal/window"
)

// ConsumerGroup — consumer group реплик scheduler'а.
const ConsumerGroup = "scheduler"

// Scheduler — цикл планирования одной реплики.
//
// Реплик может быть несколько: всё разделяемое состояние (контексты
// триггеров, счётчики concurrency, окна composite, executions) живёт
// в общем хранилище и меняется только условной записью.
type Scheduler struct {
	store      store.Store
	queue      mq.Queue
	catalog    catalog.Catalog
	limiter    *concurrency.Limiter
	windows    *window.Tracker
	leaser     *store.Leaser
	evaluators *trigger.Evaluators
	audit      audit.Emitter
	logger     *slog.Logger
	tracer     trace.Tracer

	owner             string
	tenant            string
	tickInterval      time.Duration
	evalTimeout       time.Duration
	workers           int
	batchSize         int
	failureBackoff    time.Duration
	maxFailureBackoff time.Duration
	remote            bool
	retry             store.RetryPolicy
	now               func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Store   store.Store
	Queue   mq.Queue
	Catalog catalog.Catalog

	// Limiter, Windows, Evaluators создаются по умолчанию, если не заданы.
	Limiter    *concurrency.Limiter
	Windows    *window.Tracker
	Evaluators *trigger.Evaluators

	Audit  audit.Emitter
	Logger *slog.Logger
	Tracer trace.Tracer

	// Owner — имя реплики: владелец leases и CreatedBy executions.
	Owner string

	// Tenant ограничивает реплику одним tenant'ом. Пусто — все.
	Tenant string

	TickInterval      time.Duration // default: 1s
	EvaluationTimeout time.Duration // default: 30s
	Workers           int           // параллельных вычислений (default: 8)
	BatchSize         int           // вычислений за тик (default: 100)
	LeaseTTL          time.Duration // default: 1m

	DefaultWindowSpan   time.Duration // default: 24h
	DefaultPollInterval time.Duration // default: 1m

	FailureBackoff    time.Duration // default: 5s
	MaxFailureBackoff time.Duration // default: 5m

	// Remote — публиковать запросы вычисления в очередь вместо локального вызова.
	Remote bool

	Retry store.RetryPolicy
	Now   func() time.Time
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NoopTracer()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = store.DefaultRetryPolicy()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 5 * time.Second
	}
	if cfg.MaxFailureBackoff <= 0 {
		cfg.MaxFailureBackoff = 5 * time.Minute
	}
	if cfg.Limiter == nil {
		cfg.Limiter = concurrency.New(concurrency.Config{
			Store:  cfg.Store,
			Logger: cfg.Logger,
			Retry:  cfg.Retry,
			Now:    cfg.Now,
		})
	}
	if cfg.Windows == nil {
		cfg.Windows = window.New(window.Config{
			Store:       cfg.Store,
			Logger:      cfg.Logger,
			DefaultSpan: cfg.DefaultWindowSpan,
			Retry:       cfg.Retry,
			Now:         cfg.Now,
		})
	}
	if cfg.Evaluators == nil {
		cfg.Evaluators = trigger.NewEvaluators(cfg.DefaultPollInterval)
	}

	leaser := store.NewLeaser(cfg.Store, cfg.Owner, cfg.LeaseTTL)

	return &Scheduler{
		store:             cfg.Store,
		queue:             cfg.Queue,
		catalog:           cfg.Catalog,
		limiter:           cfg.Limiter,
		windows:           cfg.Windows,
		leaser:            leaser,
		evaluators:        cfg.Evaluators,
		audit:             cfg.Audit,
		logger:            cfg.Logger,
		tracer:            cfg.Tracer,
		owner:             leaser.Owner(),
		tenant:            cfg.Tenant,
		tickInterval:      cfg.TickInterval,
		evalTimeout:       cfg.EvaluationTimeout,
		workers:           cfg.Workers,
		batchSize:         cfg.BatchSize,
		failureBackoff:    cfg.FailureBackoff,
		maxFailureBackoff: cfg.MaxFailureBackoff,
		remote:            cfg.Remote,
		retry:             cfg.Retry,
		now:               cfg.Now,
	}
}

// Owner возвращает имя реплики.
func (s *Scheduler) Owner() string {
	return s.owner
}

// Serve запускает цикл тиков и потребителей очереди до отмены ctx или
// фатальной ошибки.
func (s *Scheduler) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error {
		return s.queue.Consume(ctx, mq.TopicTransitions, ConsumerGroup, s.HandleTransition)
	})
	if s.remote {
		g.Go(func() error {
			return s.queue.Consume(ctx, mq.TopicEvaluationResults, ConsumerGroup, s.HandleEvaluationResult)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run выполняет тики до отмены ctx.
//
// Тики, а не события: пропущенный тик ничего не теряет, следующий
// пересчитывает due-триггеры по состоянию в хранилище.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: store unreachable at startup: %v", ErrFatal, err)
	}

	s.logger.Info("scheduler started",
		"owner", s.owner,
		"tick_interval", s.tickInterval,
		"remote_evaluation", s.remote,
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, ErrFatal) {
				s.logger.Error("scheduler halted", "error", err)
				return err
			}
			s.logger.Error("scheduler tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick выполняет один проход планировщика.
//
//  1. Проверяет хранилище (недоступно — ErrFatal)
//  2. Удаляет просроченные окна composite
//  3. Читает активные flows из каталога
//  4. Для каждого due trigger'а запускает вычисление в ограниченном пуле
//
// Ошибки одного trigger'а не мешают остальным.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "scheduler.tick")
	defer span.End()

	if err := s.store.Ping(ctx); err != nil {
		telemetry.Ticks.WithLabelValues("fatal").Inc()
		telemetry.SetError(span, err)
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}

	now := s.now()

	if purged, err := s.windows.Purge(ctx); err != nil {
		s.logger.Warn("failed to purge expired windows", "error", err)
	} else if purged > 0 {
		s.logger.Debug("purged expired windows", "count", purged)
	}

	flows, err := s.catalog.ListActiveFlows(ctx, s.tenant)
	if err != nil {
		// без каталога тик пропускается, состояние не меняется
		telemetry.Ticks.WithLabelValues("catalog_error").Inc()
		telemetry.SetError(span, err)
		return fmt.Errorf("list active flows: %w", err)
	}

	var (
		g          errgroup.Group
		dispatched int
	)
	g.SetLimit(s.workers)

dispatch:
	for _, flow := range flows {
		if flow.Disabled {
			continue
		}
		if flow.Concurrency != nil {
			s.promoteQueued(ctx, flow)
		}

		for i := range flow.Triggers {
			def := &flow.Triggers[i]
			if def.Disabled || def.Type == domain.TriggerFlow {
				continue
			}
			if dispatched >= s.batchSize {
				s.logger.Debug("tick batch limit reached", "batch_size", s.batchSize)
				break dispatch
			}
			dispatched++

			g.Go(func() error {
				s.processTrigger(ctx, flow, def, now)
				return nil
			})
		}
	}
	_ = g.Wait()

	telemetry.Ticks.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("orbit.flows", len(flows)),
		attribute.Int("orbit.triggers", dispatched),
	)
	return nil
}

// promoteQueued занимает слоты, освободившиеся без терминальных переходов
// (например, после увеличения лимита).
func (s *Scheduler) promoteQueued(ctx context.Context, flow *domain.FlowDescriptor) {
	promoted, err := s.limiter.Promote(ctx, flow.Key(), flow.Concurrency)
	if err != nil {
		s.logger.Warn("failed to promote queued executions", "flow", flow.Key().String(), "error", err)
		return
	}
	s.startPromoted(ctx, promoted)
}

func triggerKey(key domain.TriggerKey) string {
	return store.PrefixTrigger + key.String()
}

func leaseName(key domain.TriggerKey) string {
	return "trigger/" + key.String()
}
