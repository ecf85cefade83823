package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// EvaluatorGroup — consumer group удалённых вычислителей.
const EvaluatorGroup = "evaluator"

// ResultFromOutcome упаковывает результат вычисления для очереди.
func ResultFromOutcome(key domain.TriggerKey, at time.Time, out Outcome, evalErr *EvaluationError) mq.TriggerEvaluationResult {
	res := mq.TriggerEvaluationResult{Key: key, EvaluatedAt: at}
	if evalErr != nil {
		res.Error = evalErr.Err.Error()
		res.Timeout = evalErr.Timeout
		res.Invalid = evalErr.Invalid
		return res
	}
	res.Candidate = out.Candidate
	res.State = out.State
	res.NextEvaluationAt = out.NextEvaluationAt
	res.NextScheduleDate = out.NextScheduleDate
	return res
}

// OutcomeFromResult восстанавливает результат вычисления из сообщения.
func OutcomeFromResult(res mq.TriggerEvaluationResult) (Outcome, *EvaluationError) {
	if res.Error != "" {
		err := errors.New(res.Error)
		switch {
		case res.Invalid:
			err = fmt.Errorf("%w: %s", ErrInvalidTrigger, res.Error)
		case res.Timeout:
			err = fmt.Errorf("%w: %s", ErrTimeout, res.Error)
		}
		return Outcome{}, &EvaluationError{Key: res.Key, Err: err, Timeout: res.Timeout, Invalid: res.Invalid}
	}
	return Outcome{
		Candidate:        res.Candidate,
		State:            res.State,
		NextEvaluationAt: res.NextEvaluationAt,
		NextScheduleDate: res.NextScheduleDate,
	}, nil
}

// WorkerConfig — конфигурация удалённого вычислителя.
type WorkerConfig struct {
	Queue          mq.Queue
	Evaluators     *Evaluators
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Name           string
	DefaultTimeout time.Duration
	Now            func() time.Time
}

// Worker вычисляет триггеры по запросам из TopicEvaluations и публикует
// результаты в TopicEvaluationResults. Состояния он не хранит.
type Worker struct {
	queue      mq.Queue
	evaluators *Evaluators
	logger     *slog.Logger
	tracer     trace.Tracer
	name       string
	timeout    time.Duration
	now        func() time.Time
}

// NewWorker создаёт Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:      cfg.Queue,
		evaluators: cfg.Evaluators,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		name:       cfg.Name,
		timeout:    cfg.DefaultTimeout,
		now:        cfg.Now,
	}
	if w.evaluators == nil {
		w.evaluators = NewEvaluators(time.Minute)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.tracer == nil {
		w.tracer = telemetry.NoopTracer()
	}
	if w.timeout <= 0 {
		w.timeout = 30 * time.Second
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Run обрабатывает запросы до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("evaluator worker started", "name", w.name)
	defer w.logger.Info("evaluator worker stopped", "name", w.name)
	return w.queue.Consume(ctx, mq.TopicEvaluations, EvaluatorGroup, w.Handle)
}

// Handle обрабатывает один запрос.
func (w *Worker) Handle(ctx context.Context, msg *mq.Message) error {
	req, err := mq.ParsePayload[mq.TriggerEvaluationRequested](msg)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	}

	logger := telemetry.WithTriggerKey(w.logger, req.Key)
	now := w.now()

	// просроченный запрос уже переназначен scheduler'ом
	if !req.Deadline.IsZero() && now.After(req.Deadline) {
		logger.Warn("evaluation request expired", "deadline", req.Deadline)
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, w.tracer, "trigger.evaluate",
		attribute.String(telemetry.AttrFlow, req.Key.Flow.String()),
		attribute.String(telemetry.AttrTrigger, req.Key.TriggerID),
	)
	defer span.End()

	timeout := req.Trigger.Timeout.Std()
	if timeout <= 0 {
		timeout = w.timeout
	}
	if !req.Deadline.IsZero() {
		if left := req.Deadline.Sub(now); left < timeout {
			timeout = left
		}
	}

	var (
		out     Outcome
		evalErr *EvaluationError
	)
	ev, err := w.evaluators.For(&req.Trigger)
	if err != nil {
		evalErr = classify(req.Key, err)
	} else {
		ec := EvalContext{Flow: &req.Flow, Now: now, CreatedBy: w.name}
		out, evalErr = Run(ctx, ev, ec, &req.Trigger, &req.Context, timeout)
	}
	if evalErr != nil {
		telemetry.SetError(span, evalErr)
		logger.Warn("trigger evaluation failed", "error", evalErr)
	}

	res := ResultFromOutcome(req.Key, now, out, evalErr)
	res.RequestedBy = req.RequestedBy
	if err := w.queue.Publish(ctx, mq.TopicEvaluationResults, mq.MessageTypeEvaluationResult, res); err != nil {
		return fmt.Errorf("publish evaluation result: %w", err)
	}
	return nil
}
