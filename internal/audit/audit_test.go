package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSink_Publishes(t *testing.T) {
	q := mq.NewMemoryQueue(discardLogger())
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := NewSink(q, 8, discardLogger())
	go sink.Run(ctx)

	got := make(chan Event, 1)
	go func() {
		_ = q.Consume(ctx, mq.TopicAudit, "test", func(_ context.Context, msg *mq.Message) error {
			e, err := mq.ParsePayload[Event](msg)
			if err != nil {
				return err
			}
			assert.Equal(t, e.ID, msg.Key)
			got <- e
			return nil
		})
	}()

	sink.Emit(Event{
		Kind:        KindTransition,
		Flow:        domain.FlowKey{Tenant: "main", Namespace: "ns", FlowID: "f"},
		ExecutionID: "e-1",
		From:        domain.StateRunning,
		To:          domain.StateSuccess,
	})

	select {
	case e := <-got:
		assert.Equal(t, KindTransition, e.Kind)
		assert.Equal(t, "e-1", e.ExecutionID)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.At.IsZero())
	case <-ctx.Done():
		t.Fatal("timeout waiting for audit event")
	}
}

type blockingQueue struct {
	mq.Queue
	release chan struct{}
}

func (q *blockingQueue) Publish(ctx context.Context, _ mq.Topic, _ mq.MessageType, _ any) error {
	select {
	case <-q.release:
	case <-ctx.Done():
	}
	return nil
}

func TestSink_EmitNeverBlocks(t *testing.T) {
	q := &blockingQueue{release: make(chan struct{})}
	sink := NewSink(q, 2, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			sink.Emit(Event{Kind: KindTriggerFired})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stuck queue")
	}

	close(q.release)
	cancel()
	select {
	case <-sink.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop")
	}
}

func TestNop(t *testing.T) {
	var e Emitter = Nop{}
	require.NotPanics(t, func() { e.Emit(Event{Kind: KindTriggerSkipped}) })
}
