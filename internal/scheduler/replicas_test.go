package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
)

// pausingStore останавливает первое чтение ключа key, пока не закрыт resume.
type pausingStore struct {
	store.Store
	key    string
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func newPausingStore(s store.Store, key string) *pausingStore {
	return &pausingStore{Store: s, key: key, paused: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausingStore) Get(ctx context.Context, key string) (*store.Record, error) {
	rec, err := p.Store.Get(ctx, key)
	if key == p.key {
		p.once.Do(func() {
			close(p.paused)
			<-p.resume
		})
	}
	return rec, err
}

// replica создаёт вторую реплику поверх общего хранилища и очереди.
func (h *harness) replica(t *testing.T, s store.Store, owner string, remote bool) *Scheduler {
	t.Helper()
	return New(Config{
		Store:   s,
		Queue:   h.queue,
		Catalog: h.catalog,
		Logger:  telemetry.DiscardLogger(),
		Owner:   owner,
		Workers: 1,
		Remote:  remote,
		Now:     h.clock.Now,
	})
}

func pollingFlow() *domain.FlowDescriptor {
	return testFlow("watcher", domain.TriggerDef{
		ID:   "ready",
		Type: domain.TriggerPolling,
		Poll: &domain.PollDef{Condition: `tenant == "main"`, Interval: domain.Duration(30 * time.Second)},
	})
}

func TestReplicas_PollingTriggerStartsOnce(t *testing.T) {
	flow := pollingFlow()
	h := newHarness(t, flow)
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: "ready"}

	// вторая реплика прочитала контекст и замерла до захвата lease
	paused := newPausingStore(h.store, triggerKey(key))
	b := h.replica(t, paused, "replica-2", false)

	errc := make(chan error, 1)
	go func() { errc <- b.Tick(context.Background()) }()

	select {
	case <-paused.paused:
	case <-time.After(5 * time.Second):
		t.Fatal("second replica did not read trigger context")
	}

	// первая реплика успевает вычислить trigger и отпустить lease
	h.tick(t)
	require.Len(t, h.executions(t), 1)

	close(paused.resume)
	require.NoError(t, <-errc)

	execs := h.executions(t)
	require.Len(t, execs, 1, "устаревший контекст второй реплики не порождает второй execution")
	assert.Equal(t, "replica-1", execs[0].Metadata.CreatedBy)

	tc := h.triggerContext(t, flow, "ready")
	assert.Equal(t, t0.Add(30*time.Second), *tc.NextEvaluationAt)
	assert.Equal(t, 1, int(tc.State["evaluations"].(float64)))
}

func TestReplicas_PendingRemoteEvaluationIsNotRepublished(t *testing.T) {
	flow := pollingFlow()
	h := newHarnessWith(t, func(cfg *Config) { cfg.Remote = true }, flow)
	b := h.replica(t, h.store, "replica-2", true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requests := make(chan mq.TriggerEvaluationRequested, 4)
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
	// результат ещё не пришёл: ни та же реплика, ни соседняя не публикуют повтор
	h.advanceAndTick(t, time.Second)
	require.NoError(t, b.Tick(ctx))

	var req mq.TriggerEvaluationRequested
	select {
	case req = <-requests:
	case <-ctx.Done():
		t.Fatal("no evaluation request published")
	}
	select {
	case extra := <-requests:
		t.Fatalf("evaluation request republished by %s", extra.RequestedBy)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, "replica-1", req.RequestedBy)
	assert.Equal(t, domain.PhaseEvaluating, h.triggerContext(t, flow, "ready").Phase)

	out, err := trigger.NewPollingEvaluator(0).Evaluate(ctx, trigger.EvalContext{Flow: &req.Flow, Now: req.RequestedAt}, &req.Trigger, &req.Context)
	require.NoError(t, err)
	require.NotNil(t, out.Candidate)

	res := trigger.ResultFromOutcome(req.Key, req.RequestedAt, out, nil)
	res.RequestedBy = req.RequestedBy
	msg := resultMessage(t, res)
	require.NoError(t, h.sched.HandleEvaluationResult(ctx, msg))
	// повторная доставка результата
	require.NoError(t, b.HandleEvaluationResult(ctx, msg))

	require.Len(t, h.executions(t), 1)
	tc := h.triggerContext(t, flow, "ready")
	assert.NotEqual(t, domain.PhaseEvaluating, tc.Phase)

	held, _, err := h.sched.leaser.Held(ctx, leaseName(req.Key))
	require.NoError(t, err)
	assert.False(t, held)
}

// markEvaluating записывает контекст в фазе EVALUATING и lease реплики replica-2.
func markEvaluating(t *testing.T, h *harness, key domain.TriggerKey, leaseExpiresAt time.Time) {
	t.Helper()
	ctx := context.Background()

	tc := domain.NewTriggerContext(key)
	tc.Phase = domain.PhaseEvaluating
	tc.UpdatedAt = t0
	_, err := store.Save(ctx, h.store, triggerKey(key), tc, 0)
	require.NoError(t, err)

	lease := &store.Lease{Owner: "replica-2", ExpiresAt: leaseExpiresAt}
	_, err = store.Save(ctx, h.store, store.PrefixLease+leaseName(key), lease, 0)
	require.NoError(t, err)
}

func TestTick_SkipsTriggerAwaitingRemoteResult(t *testing.T) {
	flow := pollingFlow()
	h := newHarness(t, flow)
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: "ready"}

	markEvaluating(t, h, key, time.Now().Add(time.Hour))

	h.tick(t)

	assert.Empty(t, h.executions(t))
	tc := h.triggerContext(t, flow, "ready")
	assert.Equal(t, domain.PhaseEvaluating, tc.Phase)
	assert.Nil(t, tc.LastEvaluatedAt)
}

func TestTick_ReevaluatesWhenRemoteRequestExpired(t *testing.T) {
	flow := pollingFlow()
	h := newHarness(t, flow)
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: "ready"}

	// lease запроса истёк, результата нет
	markEvaluating(t, h, key, time.Now().Add(-time.Minute))

	h.tick(t)

	require.Len(t, h.executions(t), 1)
	tc := h.triggerContext(t, flow, "ready")
	assert.NotEqual(t, domain.PhaseEvaluating, tc.Phase)
	assert.Equal(t, t0, *tc.LastEvaluatedAt)
}
