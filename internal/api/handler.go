package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/domain"
)

// Scheduler — операции планировщика, доступные через API.
type Scheduler interface {
	Submit(ctx context.Context, key domain.FlowKey, inputs map[string]any, createdBy string) (*domain.Execution, error)
	Get(ctx context.Context, id string) (*domain.Execution, error)
	Kill(ctx context.Context, id, reason string) (*domain.Execution, error)
	Transition(ctx context.Context, id string, target domain.StateType, at time.Time, reason string) (*domain.Execution, error)
	TriggerContext(ctx context.Context, key domain.TriggerKey) (*domain.TriggerContext, error)
	Concurrency(ctx context.Context, flow domain.FlowKey) (*domain.ConcurrencyLimit, error)
	Window(ctx context.Context, flow domain.FlowKey, compositeID string) (*domain.MultipleConditionWindow, error)
	Ping(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	scheduler Scheduler
	catalog   catalog.Catalog
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Scheduler Scheduler
	Catalog   catalog.Catalog
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		scheduler: cfg.Scheduler,
		catalog:   cfg.Catalog,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}
