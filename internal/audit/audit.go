package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// Kind — тип события аудита.
type Kind string

const (
	KindExecutionCreated Kind = "execution.created"
	KindTransition       Kind = "execution.transition"
	KindKillRequested    Kind = "execution.kill_requested"
	KindTriggerFired     Kind = "trigger.fired"
	KindTriggerSkipped   Kind = "trigger.skipped"
	KindTriggerFailed    Kind = "trigger.failed"
	KindTriggerInvalid   Kind = "trigger.invalid"
	KindCompositeMember  Kind = "composite.member"
	KindCompositeFired   Kind = "composite.fired"
)

// Event — событие аудита. Ключ в очереди — ID события.
type Event struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	At          time.Time        `json:"at"`
	Flow        domain.FlowKey   `json:"flow"`
	TriggerID   string           `json:"trigger_id,omitempty"`
	CompositeID string           `json:"composite_id,omitempty"`
	ExecutionID string           `json:"execution_id,omitempty"`
	From        domain.StateType `json:"from,omitempty"`
	To          domain.StateType `json:"to,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

func (e Event) QueueKey() string { return e.ID }

// Emitter принимает события аудита. Emit не блокирует вызывающего.
type Emitter interface {
	Emit(e Event)
}

// Nop отбрасывает события.
type Nop struct{}

func (Nop) Emit(Event) {}

// Sink публикует события в TopicAudit из отдельной горутины.
//
// Буфер ограничен: при переполнении событие отбрасывается и считается
// в метрике AuditDropped. Ошибка публикации только логируется.
type Sink struct {
	queue  mq.Queue
	logger *slog.Logger
	events chan Event

	once sync.Once
	done chan struct{}
}

// NewSink создаёт Sink с буфером size.
func NewSink(queue mq.Queue, size int, logger *slog.Logger) *Sink {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		queue:  queue,
		logger: logger,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Emit реализует Emitter.
func (s *Sink) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	select {
	case s.events <- e:
	default:
		telemetry.AuditDropped.Inc()
		s.logger.Debug("audit buffer full, event dropped", "kind", e.Kind, "execution_id", e.ExecutionID)
	}
}

// Run публикует события до отмены ctx. Оставшиеся в буфере события
// публикуются перед выходом (с коротким таймаутом).
func (s *Sink) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })

	for {
		select {
		case e := <-s.events:
			s.publish(ctx, e)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// Done закрывается после выхода из Run.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.events:
			s.publish(ctx, e)
		default:
			return
		}
	}
}

func (s *Sink) publish(ctx context.Context, e Event) {
	if err := s.queue.Publish(ctx, mq.TopicAudit, mq.MessageTypeAudit, e); err != nil {
		s.logger.Warn("failed to publish audit event", "kind", e.Kind, "error", err)
	}
}
