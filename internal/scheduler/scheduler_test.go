package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	sched   *Scheduler
	store   *store.MemoryStore
	queue   *mq.WatermillQueue
	catalog *catalog.Static
	clock   *fakeClock
}

func newHarness(t *testing.T, flows ...*domain.FlowDescriptor) *harness {
	return newHarnessWith(t, func(*Config) {}, flows...)
}

func newHarnessWith(t *testing.T, tune func(*Config), flows ...*domain.FlowDescriptor) *harness {
	t.Helper()

	logger := telemetry.DiscardLogger()
	cat, err := catalog.NewStatic("main", flows...)
	require.NoError(t, err)

	h := &harness{
		store:   store.NewMemoryStore(),
		queue:   mq.NewMemoryQueue(logger),
		catalog: cat,
		clock:   &fakeClock{now: t0},
	}
	t.Cleanup(func() { _ = h.queue.Close() })

	cfg := Config{
		Store:   h.store,
		Queue:   h.queue,
		Catalog: cat,
		Logger:  logger,
		Owner:   "replica-1",
		Workers: 4,
		Now:     h.clock.Now,
	}
	tune(&cfg)
	h.sched = New(cfg)
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Tick(context.Background()))
}

// advanceAndTick сдвигает часы и выполняет тик.
func (h *harness) advanceAndTick(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	h.tick(t)
}

func (h *harness) executions(t *testing.T) []*domain.Execution {
	t.Helper()
	recs, err := h.store.List(context.Background(), store.PrefixExecution)
	require.NoError(t, err)

	out := make([]*domain.Execution, 0, len(recs))
	for _, rec := range recs {
		var exec domain.Execution
		require.NoError(t, json.Unmarshal(rec.Value, &exec))
		out = append(out, &exec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (h *harness) triggerContext(t *testing.T, flow *domain.FlowDescriptor, id string) *domain.TriggerContext {
	t.Helper()
	tc, err := h.sched.TriggerContext(context.Background(), domain.TriggerKey{Flow: flow.Key(), TriggerID: id})
	require.NoError(t, err)
	return tc
}

func everyMinute(id string) domain.TriggerDef {
	return domain.TriggerDef{ID: id, Type: domain.TriggerSchedule, Interval: domain.Duration(time.Minute)}
}

func testFlow(id string, triggers ...domain.TriggerDef) *domain.FlowDescriptor {
	return &domain.FlowDescriptor{
		Tenant:    "main",
		Namespace: "company.team",
		ID:        id,
		Inputs:    map[string]any{"env": "prod"},
		Triggers:  triggers,
	}
}

func TestTick_FirstTickOnlyPlans(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarness(t, flow)

	h.tick(t)

	assert.Empty(t, h.executions(t))
	tc := h.triggerContext(t, flow, "tick")
	require.NotNil(t, tc.NextScheduleDate)
	assert.Equal(t, t0.Add(time.Minute), *tc.NextScheduleDate)
	assert.Equal(t, domain.PhaseIdle, tc.Phase)
	assert.Equal(t, t0, *tc.LastEvaluatedAt)
}

func TestTick_FiresDueSchedule(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarness(t, flow)

	h.tick(t)
	h.advanceAndTick(t, time.Minute)

	execs := h.executions(t)
	require.Len(t, execs, 1)
	exec := execs[0]
	assert.Equal(t, domain.StateRunning, exec.State.Current)
	assert.Equal(t, domain.TriggerSchedule, exec.Trigger.Type)
	assert.Equal(t, t0.Add(time.Minute), *exec.Trigger.Date)
	assert.Equal(t, "prod", exec.Inputs["env"])
	assert.Equal(t, "replica-1", exec.Metadata.CreatedBy)

	tc := h.triggerContext(t, flow, "tick")
	assert.Equal(t, domain.PhaseFired, tc.Phase)
	assert.Equal(t, exec.ID, tc.LastExecutionID)
	assert.Equal(t, t0.Add(2*time.Minute), *tc.NextScheduleDate)
}

func TestTick_NotDueDoesNothing(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarness(t, flow)

	h.tick(t)
	before := h.triggerContext(t, flow, "tick")
	h.advanceAndTick(t, 30*time.Second)

	assert.Empty(t, h.executions(t))
	after := h.triggerContext(t, flow, "tick")
	assert.Equal(t, before.LastEvaluatedAt, after.LastEvaluatedAt)
}

func TestTick_MissedTicksFireOnce(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarness(t, flow)

	h.tick(t)
	// реплика простаивала десять минут
	h.advanceAndTick(t, 10*time.Minute)

	execs := h.executions(t)
	require.Len(t, execs, 1)
	assert.Equal(t, t0.Add(10*time.Minute), *execs[0].Trigger.Date)

	tc := h.triggerContext(t, flow, "tick")
	assert.Equal(t, t0.Add(11*time.Minute), *tc.NextScheduleDate)
}

func TestTick_ReplayedScheduleDateIsIdempotent(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarness(t, flow)

	h.tick(t)
	h.advanceAndTick(t, time.Minute)
	require.Len(t, h.executions(t), 1)

	// устаревший контекст: другая реплика вычисляет ту же дату повторно
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: "tick"}
	date := t0.Add(time.Minute)
	require.NoError(t, store.Mutate(context.Background(), h.store, triggerKey(key), store.DefaultRetryPolicy(),
		func(cur *domain.TriggerContext) (*domain.TriggerContext, error) {
			cur.NextScheduleDate = &date
			cur.NextEvaluationAt = &date
			return cur, nil
		}))

	h.tick(t)
	assert.Len(t, h.executions(t), 1)
}

func TestTick_DisabledTriggersAndFlowsSkipped(t *testing.T) {
	off := everyMinute("off")
	off.Disabled = true
	flow := testFlow("partial", everyMinute("on"), off)
	disabled := testFlow("disabled", everyMinute("tick"))
	disabled.Disabled = true
	h := newHarness(t, flow, disabled)

	h.tick(t)

	assert.NotNil(t, h.triggerContext(t, flow, "on").LastEvaluatedAt)
	assert.Nil(t, h.triggerContext(t, flow, "off").LastEvaluatedAt)
	assert.Nil(t, h.triggerContext(t, disabled, "tick").LastEvaluatedAt)
}

func TestTick_StoreUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, testFlow("hourly", everyMinute("tick")))

	h.store.Close()
	err := h.sched.Tick(context.Background())
	assert.ErrorIs(t, err, ErrFatal)

	err = h.sched.Run(context.Background())
	assert.ErrorIs(t, err, ErrFatal)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, testFlow("hourly", everyMinute("tick")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTick_BatchSizeLimitsDispatch(t *testing.T) {
	flow := testFlow("wide", everyMinute("a"), everyMinute("b"), everyMinute("c"))
	h := newHarnessWith(t, func(cfg *Config) { cfg.BatchSize = 2 }, flow)

	h.tick(t)

	evaluated := 0
	for _, id := range []string{"a", "b", "c"} {
		if h.triggerContext(t, flow, id).LastEvaluatedAt != nil {
			evaluated++
		}
	}
	assert.Equal(t, 2, evaluated)
}

func TestTick_CompositeFiresOnceWhenAllMembersSatisfied(t *testing.T) {
	a := everyMinute("a")
	a.Composite = "both"
	b := everyMinute("b")
	b.Composite = "both"
	flow := testFlow("joined", a, b)
	flow.Composites = []domain.CompositeDef{{
		ID:      "both",
		Members: []string{"a", "b"},
		Span:    domain.Duration(10 * time.Minute),
		Inputs:  map[string]any{"mode": "joined"},
	}}
	h := newHarness(t, flow)

	h.tick(t)
	h.advanceAndTick(t, time.Minute)

	execs := h.executions(t)
	require.Len(t, execs, 1)
	exec := execs[0]
	assert.Equal(t, domain.TriggerComposite, exec.Trigger.Type)
	assert.Equal(t, "both", exec.Trigger.TriggerID)
	assert.Len(t, exec.Trigger.Members, 2)
	assert.Equal(t, "joined", exec.Inputs["mode"])
	assert.Equal(t, "prod", exec.Inputs["env"])
}

func TestTick_CompositeWaitsForMissingMember(t *testing.T) {
	a := everyMinute("a")
	a.Composite = "both"
	b := domain.TriggerDef{ID: "b", Type: domain.TriggerSchedule, Interval: domain.Duration(time.Hour), Composite: "both"}
	flow := testFlow("joined", a, b)
	flow.Composites = []domain.CompositeDef{{ID: "both", Members: []string{"a", "b"}, Span: domain.Duration(2 * time.Hour)}}
	h := newHarness(t, flow)

	h.tick(t)
	h.advanceAndTick(t, time.Minute)
	h.advanceAndTick(t, time.Minute)
	assert.Empty(t, h.executions(t))

	h.clock.Advance(58 * time.Minute)
	h.tick(t)
	require.Len(t, h.executions(t), 1)
}

func TestTick_RemoteEvaluationPublishesRequest(t *testing.T) {
	flow := testFlow("hourly", everyMinute("tick"))
	h := newHarnessWith(t, func(cfg *Config) { cfg.Remote = true }, flow)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requests := make(chan mq.TriggerEvaluationRequested, 1)
	go func() {
		_ = h.queue.Consume(ctx, mq.TopicEvaluations, trigger.EvaluatorGroup, func(_ context.Context, msg *mq.Message) error {
			req, err := mq.ParsePayload[mq.TriggerEvaluationRequested](msg)
			if err != nil {
				return err
			}
			requests <- req
			return nil
		})
	}()

	h.tick(t)

	select {
	case req := <-requests:
		assert.Equal(t, "tick", req.Key.TriggerID)
		assert.Equal(t, "replica-1", req.RequestedBy)
		assert.Equal(t, t0.Add(30*time.Second), req.Deadline)
	case <-ctx.Done():
		t.Fatal("no evaluation request published")
	}

	tc := h.triggerContext(t, flow, "tick")
	assert.Equal(t, domain.PhaseEvaluating, tc.Phase)

	held, owner, err := h.sched.leaser.Held(context.Background(), leaseName(tc.Key))
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "replica-1", owner)
}
