package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
)

var (
	t0   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	flow = domain.FlowKey{Tenant: "main", Namespace: "ns", FlowID: "report"}
	both = &domain.CompositeDef{ID: "both", Members: []string{"A", "B"}, Span: domain.Duration(10 * time.Minute)}
)

func newTracker(s store.Store, now time.Time) *Tracker {
	return New(Config{
		Store:  s,
		Logger: telemetry.DiscardLogger(),
		Retry:  store.RetryPolicy{MaxRetries: 200, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		Now:    func() time.Time { return now },
	})
}

func TestRecord_FiresWhenSatisfied(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore(), t0)

	ev, err := tr.Record(ctx, flow, both, "A", t0)
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = tr.Record(ctx, flow, both, "B", t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "main/ns/report/both", ev.CompositeID)
	assert.Equal(t, map[string]time.Time{"A": t0, "B": t0.Add(3 * time.Minute)}, ev.Members)
	assert.Equal(t, t0, ev.Start)
	assert.Equal(t, t0.Add(10*time.Minute), ev.Deadline)

	w, err := tr.Get(ctx, flow, "both")
	require.NoError(t, err)
	assert.Nil(t, w, "сработавшее окно удаляется")
}

func TestRecord_ScenarioB(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore(), t0)

	ev, err := tr.Record(ctx, flow, both, "A", t0)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// B после дедлайна: окно с A отбрасывается, открывается новое с B
	ev, err = tr.Record(ctx, flow, both, "B", t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, ev)

	w, err := tr.Get(ctx, flow, "both")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, t0.Add(11*time.Minute), w.Start)
	assert.Equal(t, []string{"A"}, w.Missing())

	// B снова, одно: окно не срабатывает
	ev, err = tr.Record(ctx, flow, both, "B", t0.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, ev)

	// повторная доставка старого A не сочетается с новым окном
	ev, err = tr.Record(ctx, flow, both, "A", t0)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// A внутри нового окна — срабатывание
	ev, err = tr.Record(ctx, flow, both, "A", t0.Add(15*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, t0.Add(15*time.Minute), ev.Members["A"])
	assert.Equal(t, t0.Add(12*time.Minute), ev.Members["B"])
}

func TestRecord_LateEventShiftsStart(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore(), t0)

	_, err := tr.Record(ctx, flow, both, "B", t0.Add(5*time.Minute))
	require.NoError(t, err)

	ev, err := tr.Record(ctx, flow, both, "A", t0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, t0, ev.Start)
}

func TestRecord_SingleMember(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore(), t0)
	solo := &domain.CompositeDef{ID: "solo", Members: []string{"A"}}

	ev, err := tr.Record(ctx, flow, solo, "A", t0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 24*time.Hour, ev.Deadline.Sub(ev.Start), "ширина по умолчанию")
}

func TestRecord_Errors(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore(), t0)

	_, err := tr.Record(ctx, flow, both, "C", t0)
	assert.ErrorIs(t, err, ErrUnknownMember)

	_, err = tr.Record(ctx, flow, &domain.CompositeDef{ID: "empty"}, "A", t0)
	assert.ErrorIs(t, err, ErrEmptyComposite)
}

func TestRecord_ConcurrentFiresOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	members := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	def := &domain.CompositeDef{ID: "all", Members: members, Span: domain.Duration(time.Hour)}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fires int
	)
	for i, m := range members {
		wg.Add(1)
		go func(i int, m string) {
			defer wg.Done()
			ev, err := newTracker(s, t0).Record(ctx, flow, def, m, t0.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
			if ev != nil {
				mu.Lock()
				fires++
				mu.Unlock()
			}
		}(i, m)
	}
	wg.Wait()

	assert.Equal(t, 1, fires)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, err := newTracker(s, t0).Record(ctx, flow, both, "A", t0)
	require.NoError(t, err)
	other := &domain.CompositeDef{ID: "other", Members: []string{"A", "B"}, Span: domain.Duration(time.Hour)}
	_, err = newTracker(s, t0).Record(ctx, flow, other, "A", t0)
	require.NoError(t, err)

	purged, err := newTracker(s, t0.Add(20*time.Minute)).Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	w, err := newTracker(s, t0).Get(ctx, flow, "other")
	require.NoError(t, err)
	assert.NotNil(t, w)
}
