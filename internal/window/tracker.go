package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// Tracker ведёт окна composite-условий в общем хранилище.
//
// Каждое изменение окна — read-modify-write с условной записью, поэтому
// реплики, наблюдающие разные member-условия, не теряют обновления друг
// друга, а окно срабатывает ровно один раз.
type Tracker struct {
	store       store.Store
	logger      *slog.Logger
	retry       store.RetryPolicy
	defaultSpan time.Duration
	now         func() time.Time
}

// Config — конфигурация Tracker.
type Config struct {
	Store  store.Store
	Logger *slog.Logger

	// DefaultSpan — ширина окна, если composite её не задаёт (по умолчанию 24h).
	DefaultSpan time.Duration

	Retry store.RetryPolicy
	Now   func() time.Time
}

// New создаёт Tracker.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultSpan <= 0 {
		cfg.DefaultSpan = 24 * time.Hour
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = store.DefaultRetryPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		store:       cfg.Store,
		logger:      cfg.Logger,
		retry:       cfg.Retry,
		defaultSpan: cfg.DefaultSpan,
		now:         cfg.Now,
	}
}

// CompositeKey — полный идентификатор composite ("tenant/ns/flow/composite").
func CompositeKey(flow domain.FlowKey, compositeID string) string {
	return flow.String() + "/" + compositeID
}

func windowKey(compositeKey string) string {
	return store.PrefixWindow + compositeKey
}

// Span возвращает ширину окна composite с учётом значения по умолчанию.
func (t *Tracker) Span(def *domain.CompositeDef) time.Duration {
	if def.Span.Std() > 0 {
		return def.Span.Std()
	}
	return t.defaultSpan
}

// Record отмечает выполнение member-условия в момент ts.
//
// Возвращает FireEvent, если после записи выполнены все условия окна;
// окно при этом удаляется. Иначе возвращает nil и сохраняет окно.
//
// Правила:
//   - окна нет — открывается новое с началом в ts;
//   - ts позже дедлайна — старое окно отбрасывается, открывается новое;
//   - ts раньше начала окна (запоздавшее событие) — начало сдвигается на ts,
//     если все уже выполненные условия остаются в пределах ширины окна,
//     иначе событие отбрасывается: оно не может сочетаться с текущим набором.
func (t *Tracker) Record(ctx context.Context, flow domain.FlowKey, def *domain.CompositeDef, memberID string, ts time.Time) (*domain.FireEvent, error) {
	if len(def.Members) == 0 {
		return nil, ErrEmptyComposite
	}
	if !contains(def.Members, memberID) {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnknownMember, memberID, def.ID)
	}

	compositeKey := CompositeKey(flow, def.ID)
	span := t.Span(def)

	var (
		fired     *domain.FireEvent
		discarded bool
		attempt   int
	)

	err := store.Mutate(ctx, t.store, windowKey(compositeKey), t.retry, func(cur *domain.MultipleConditionWindow) (*domain.MultipleConditionWindow, error) {
		if attempt++; attempt > 1 {
			telemetry.StoreConflicts.WithLabelValues("window").Inc()
		}
		fired, discarded = nil, false

		w := cur
		switch {
		case w == nil:
			w = domain.NewWindow(compositeKey, def.Members, ts, span)
		case ts.After(w.Deadline):
			discarded = true
			w = domain.NewWindow(compositeKey, def.Members, ts, span)
		case ts.Before(w.Start):
			if !fitsBefore(w, ts, span) {
				t.logger.Debug("late member event dropped",
					"composite", compositeKey,
					"member", memberID,
					"ts", ts,
					"window_start", w.Start,
				)
				return nil, store.ErrUnchanged
			}
			w.Start = ts
			w.Deadline = ts.Add(span)
		}

		if prev, ok := w.Members[memberID]; !ok || ts.After(prev) {
			w.Members[memberID] = ts
		}

		if w.IsSatisfied() {
			fired = &domain.FireEvent{
				CompositeID: compositeKey,
				Start:       w.Start,
				Deadline:    w.Deadline,
				Members:     copyMembers(w.Members),
				FiredAt:     t.now(),
			}
			if cur == nil {
				// окно из одного условия срабатывает сразу, не записываясь
				return nil, store.ErrUnchanged
			}
			return nil, nil
		}
		return w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record %s/%s: %w", compositeKey, memberID, err)
	}

	if discarded {
		telemetry.WindowsDiscarded.Inc()
		t.logger.Info("composite window expired without firing",
			"composite", compositeKey,
			"member", memberID,
		)
	}
	if fired != nil {
		telemetry.WindowFires.Inc()
		t.logger.Info("composite window fired",
			"composite", compositeKey,
			"members", len(fired.Members),
		)
	}
	return fired, nil
}

// fitsBefore проверяет, что при начале окна в ts все выполненные условия
// остаются внутри [ts, ts+span].
func fitsBefore(w *domain.MultipleConditionWindow, ts time.Time, span time.Duration) bool {
	deadline := ts.Add(span)
	for _, at := range w.Members {
		if at.After(deadline) {
			return false
		}
	}
	return true
}

// Get возвращает открытое окно composite (nil, если его нет).
func (t *Tracker) Get(ctx context.Context, flow domain.FlowKey, compositeID string) (*domain.MultipleConditionWindow, error) {
	w, _, err := store.Load[domain.MultipleConditionWindow](ctx, t.store, windowKey(CompositeKey(flow, compositeID)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return w, err
}

// Purge удаляет окна, дедлайн которых прошёл. Возвращает число удалённых.
// Окно, изменённое другой репликой во время Purge, остаётся до следующего вызова.
func (t *Tracker) Purge(ctx context.Context) (int, error) {
	now := t.now()
	recs, err := t.store.List(ctx, store.PrefixWindow)
	if err != nil {
		return 0, fmt.Errorf("list windows: %w", err)
	}

	purged := 0
	for _, rec := range recs {
		var w domain.MultipleConditionWindow
		if err := json.Unmarshal(rec.Value, &w); err != nil {
			t.logger.Warn("skip unreadable window", "key", rec.Key, "error", err)
			continue
		}
		if !w.IsExpired(now) {
			continue
		}

		err = t.store.DeleteIf(ctx, rec.Key, rec.Version)
		switch {
		case err == nil:
			purged++
			telemetry.WindowsDiscarded.Inc()
			t.logger.Info("expired composite window purged",
				"composite", w.CompositeID,
				"missing", w.Missing(),
			)
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		default:
			return purged, fmt.Errorf("delete window %s: %w", rec.Key, err)
		}
	}
	return purged, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func copyMembers(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
