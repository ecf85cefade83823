package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Orbit/internal/audit"
	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
)

// Результаты обработки trigger'а (метка метрики Evaluations).
const (
	resultFired      = "fired"
	resultEmpty      = "empty"
	resultFailed     = "failed"
	resultTimeout    = "timeout"
	resultInvalid    = "invalid"
	resultRequested  = "requested"
	resultNotDue     = "not_due"
	resultSkipped    = "skipped"
	resultLeaseHeld  = "lease_held"
	resultEvaluating = "evaluating"
	resultStoreError = "store_error"
)

// processTrigger проводит один trigger через цикл IDLE → EVALUATING → (IDLE | FIRED).
func (s *Scheduler) processTrigger(ctx context.Context, flow *domain.FlowDescriptor, def *domain.TriggerDef, now time.Time) string {
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: def.ID}
	logger := telemetry.WithTriggerKey(s.logger, key)

	tc, err := s.loadContext(ctx, key)
	if err != nil {
		logger.Error("failed to load trigger context", "error", err)
		return resultStoreError
	}
	if label := s.shouldEvaluate(ctx, logger, key, def, tc, now, false); label != "" {
		return label
	}

	if err := s.validate(flow, def); err != nil {
		evalErr := &trigger.EvaluationError{Key: key, Err: err, Invalid: true}
		label, uerr := s.applyOutcome(ctx, flow, def, now, trigger.Outcome{}, evalErr)
		if uerr != nil {
			logger.Error("failed to mark trigger invalid", "error", uerr)
		}
		return label
	}

	if err := s.leaser.Acquire(ctx, leaseName(key)); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			logger.Debug("trigger is being evaluated elsewhere")
			return resultLeaseHeld
		}
		logger.Error("failed to acquire trigger lease", "error", err)
		return resultStoreError
	}
	release := func() {
		if err := s.leaser.Release(context.WithoutCancel(ctx), leaseName(key)); err != nil {
			logger.Warn("failed to release trigger lease", "error", err)
		}
	}

	// контекст перечитывается под lease: между чтением и захватом
	// другая реплика могла вычислить trigger и отпустить lease
	tc, err = s.loadContext(ctx, key)
	if err != nil {
		release()
		logger.Error("failed to reload trigger context", "error", err)
		return resultStoreError
	}
	if label := s.shouldEvaluate(ctx, logger, key, def, tc, now, true); label != "" {
		release()
		return label
	}

	if s.remote {
		return s.requestEvaluation(ctx, flow, def, tc, now)
	}

	defer release()
	return s.evaluateLocal(ctx, flow, def, tc, now)
}

// shouldEvaluate решает, вычислять ли trigger на этом тике. Пустая строка — вычислять,
// иначе метка результата. leased — lease уже захвачен этим экземпляром.
func (s *Scheduler) shouldEvaluate(ctx context.Context, logger *slog.Logger, key domain.TriggerKey, def *domain.TriggerDef, tc *domain.TriggerContext, now time.Time, leased bool) string {
	fingerprint := def.Fingerprint()
	if tc.Fingerprint != "" && tc.Fingerprint != fingerprint {
		// определение изменилось: расписание считается заново
		if !leased {
			logger.Info("trigger definition changed", "was_invalid", tc.Invalid)
		}
		tc.NextScheduleDate = nil
		tc.NextEvaluationAt = nil
		tc.Invalid = false
		tc.InvalidReason = ""
	}
	if tc.Invalid {
		return resultSkipped
	}
	if !tc.IsDue(now) {
		return resultNotDue
	}
	if tc.Phase != domain.PhaseEvaluating {
		return ""
	}

	if leased {
		// lease запроса истёк, а результата нет: запрос считается потерянным
		logger.Warn("evaluation request expired without result, evaluating again", "requested_at", tc.UpdatedAt)
		return ""
	}
	held, _, err := s.leaser.Held(ctx, leaseName(key))
	if err != nil {
		logger.Error("failed to check trigger lease", "error", err)
		return resultStoreError
	}
	if held {
		logger.Debug("evaluation request is pending")
		return resultEvaluating
	}
	return ""
}

// validate проверяет trigger и его ссылку на composite.
func (s *Scheduler) validate(flow *domain.FlowDescriptor, def *domain.TriggerDef) error {
	if err := trigger.Validate(def); err != nil {
		return err
	}
	if def.Composite != "" && flow.Composite(def.Composite) == nil {
		return fmt.Errorf("%w: unknown composite %q", trigger.ErrInvalidTrigger, def.Composite)
	}
	return nil
}

func (s *Scheduler) loadContext(ctx context.Context, key domain.TriggerKey) (*domain.TriggerContext, error) {
	tc, _, err := store.Load[domain.TriggerContext](ctx, s.store, triggerKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewTriggerContext(key), nil
	}
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// TriggerContext возвращает сохранённый контекст trigger'а.
func (s *Scheduler) TriggerContext(ctx context.Context, key domain.TriggerKey) (*domain.TriggerContext, error) {
	return s.loadContext(ctx, key)
}

func (s *Scheduler) evaluateLocal(ctx context.Context, flow *domain.FlowDescriptor, def *domain.TriggerDef, tc *domain.TriggerContext, now time.Time) string {
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: def.ID}

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "trigger.evaluate",
		attribute.String(telemetry.AttrFlow, key.Flow.String()),
		attribute.String(telemetry.AttrTrigger, def.ID),
	)
	defer span.End()

	timeout := def.Timeout.Std()
	if timeout <= 0 {
		timeout = s.evalTimeout
	}

	var (
		out     trigger.Outcome
		evalErr *trigger.EvaluationError
	)
	ev, err := s.evaluators.For(def)
	if err != nil {
		evalErr = &trigger.EvaluationError{Key: key, Err: err, Invalid: errors.Is(err, trigger.ErrInvalidTrigger)}
	} else {
		started := time.Now()
		ec := trigger.EvalContext{Flow: flow, Now: now, CreatedBy: s.owner}
		out, evalErr = trigger.Run(ctx, ev, ec, def, tc, timeout)
		telemetry.EvaluationDuration.WithLabelValues(string(def.Type)).Observe(time.Since(started).Seconds())
	}
	if evalErr != nil {
		telemetry.SetError(span, evalErr)
	}

	label, err := s.applyOutcome(ctx, flow, def, now, out, evalErr)
	if err != nil {
		telemetry.WithTriggerKey(s.logger, key).Error("failed to update trigger context", "error", err)
		return resultStoreError
	}
	return label
}

// requestEvaluation публикует запрос удалённого вычисления. Lease остаётся
// захваченным до применения результата (или истечения TTL).
func (s *Scheduler) requestEvaluation(ctx context.Context, flow *domain.FlowDescriptor, def *domain.TriggerDef, tc *domain.TriggerContext, now time.Time) string {
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: def.ID}
	logger := telemetry.WithTriggerKey(s.logger, key)

	timeout := def.Timeout.Std()
	if timeout <= 0 {
		timeout = s.evalTimeout
	}

	req := mq.TriggerEvaluationRequested{
		Key:         key,
		Flow:        *flow,
		Trigger:     *def,
		Context:     *tc,
		RequestedAt: now,
		Deadline:    now.Add(timeout),
		RequestedBy: s.owner,
	}
	// переход в EVALUATING только от прочитанного под lease состояния
	moved := false
	err := store.Mutate(ctx, s.store, triggerKey(key), s.retry, func(cur *domain.TriggerContext) (*domain.TriggerContext, error) {
		moved = false
		if cur == nil {
			cur = domain.NewTriggerContext(key)
		}
		if cur.Phase != tc.Phase || !cur.UpdatedAt.Equal(tc.UpdatedAt) {
			return nil, store.ErrUnchanged
		}
		cur.Phase = domain.PhaseEvaluating
		cur.UpdatedAt = now
		moved = true
		return cur, nil
	})
	if err != nil {
		logger.Error("failed to mark trigger evaluating", "error", err)
		_ = s.leaser.Release(context.WithoutCancel(ctx), leaseName(key))
		return resultStoreError
	}
	if !moved {
		logger.Debug("trigger context changed concurrently, request not published")
		_ = s.leaser.Release(context.WithoutCancel(ctx), leaseName(key))
		return resultSkipped
	}

	// фаза выставляется до публикации: результат может прийти раньше
	if err := s.queue.Publish(ctx, mq.TopicEvaluations, mq.MessageTypeEvaluationRequested, req); err != nil {
		logger.Error("failed to publish evaluation request", "error", err)
		_ = s.leaser.Release(context.WithoutCancel(ctx), leaseName(key))
		return resultFailed
	}
	return resultRequested
}

// HandleEvaluationResult применяет результат удалённого вычисления.
func (s *Scheduler) HandleEvaluationResult(ctx context.Context, msg *mq.Message) error {
	res, err := mq.ParsePayload[mq.TriggerEvaluationResult](msg)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	}

	key := res.Key
	logger := telemetry.WithTriggerKey(s.logger, key)
	release := func() {
		if err := s.leaser.ReleaseFor(context.WithoutCancel(ctx), leaseName(key), res.RequestedBy); err != nil {
			logger.Warn("failed to release trigger lease", "error", err)
		}
	}

	flow, err := s.catalog.Get(ctx, key.Flow)
	if errors.Is(err, catalog.ErrNotFound) {
		release()
		return fmt.Errorf("%w: flow %s no longer exists", mq.ErrDrop, key.Flow)
	}
	if err != nil {
		return fmt.Errorf("get flow %s: %w", key.Flow, err)
	}
	def := flow.Trigger(key.TriggerID)
	if def == nil || flow.Disabled || def.Disabled {
		release()
		return fmt.Errorf("%w: trigger %s is gone or disabled", mq.ErrDrop, key)
	}

	out, evalErr := trigger.OutcomeFromResult(res)
	label, err := s.applyOutcome(ctx, flow, def, res.EvaluatedAt, out, evalErr)
	if err != nil {
		// контекст не записан: результат будет доставлен повторно
		return fmt.Errorf("apply evaluation result: %w", err)
	}
	release()

	logger.Debug("evaluation result applied", "result", label)
	return nil
}

// applyOutcome проводит кандидата через gate и записывает контекст trigger'а.
//
// Если кандидата не удалось принять (например, исчерпаны повторы при
// конфликте), вычисление считается неудачным: расписание не сдвигается
// и следующий тик повторит попытку с тем же ID execution.
func (s *Scheduler) applyOutcome(ctx context.Context, flow *domain.FlowDescriptor, def *domain.TriggerDef, at time.Time, out trigger.Outcome, evalErr *trigger.EvaluationError) (string, error) {
	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: def.ID}
	logger := telemetry.WithTriggerKey(s.logger, key)

	var fired *domain.Execution
	if evalErr == nil && out.Candidate != nil {
		exec, err := s.admitCandidate(ctx, flow, def, out.Candidate)
		if err != nil {
			evalErr = &trigger.EvaluationError{Key: key, Err: fmt.Errorf("admit execution: %w", err)}
		} else {
			fired = exec
		}
	}

	if err := s.updateContext(ctx, key, def, at, out, fired, evalErr); err != nil {
		return resultStoreError, err
	}

	event := audit.Event{Flow: key.Flow, TriggerID: def.ID, At: at}
	var label string
	switch {
	case evalErr != nil && evalErr.Invalid:
		label = resultInvalid
		event.Kind = audit.KindTriggerInvalid
		event.Reason = evalErr.Err.Error()
		logger.Warn("trigger marked invalid", "error", evalErr.Err)
	case evalErr != nil:
		label = resultFailed
		if evalErr.Timeout {
			label = resultTimeout
		}
		event.Kind = audit.KindTriggerFailed
		event.Reason = evalErr.Err.Error()
		logger.Warn("trigger evaluation failed", "error", evalErr.Err, "timeout", evalErr.Timeout)
	case fired != nil:
		label = resultFired
		event.Kind = audit.KindTriggerFired
		event.ExecutionID = fired.ID
		logger.Info("trigger fired", "execution_id", fired.ID, "state", fired.State.Current)
	default:
		label = resultEmpty
		event.Kind = audit.KindTriggerSkipped
	}

	telemetry.Evaluations.WithLabelValues(label).Inc()
	s.audit.Emit(event)
	return label, nil
}

// updateContext записывает итог вычисления. LastEvaluatedAt сдвигается
// всегда, в том числе после ошибки.
func (s *Scheduler) updateContext(ctx context.Context, key domain.TriggerKey, def *domain.TriggerDef, at time.Time, out trigger.Outcome, fired *domain.Execution, evalErr *trigger.EvaluationError) error {
	fingerprint := def.Fingerprint()
	var attempt int

	return store.Mutate(ctx, s.store, triggerKey(key), s.retry, func(cur *domain.TriggerContext) (*domain.TriggerContext, error) {
		if attempt++; attempt > 1 {
			telemetry.StoreConflicts.WithLabelValues("trigger").Inc()
		}

		next := domain.NewTriggerContext(key)
		if cur != nil {
			cp := *cur
			next = &cp
		}
		if next.Fingerprint != fingerprint {
			next.NextScheduleDate = nil
			next.Invalid = false
			next.InvalidReason = ""
		}

		evaluatedAt := at
		next.LastEvaluatedAt = &evaluatedAt
		next.UpdatedAt = at
		next.Fingerprint = fingerprint
		next.Phase = domain.PhaseIdle

		if evalErr != nil {
			next.ConsecutiveFailures++
			next.LastError = evalErr.Error()
			if evalErr.Invalid {
				next.Invalid = true
				next.InvalidReason = evalErr.Err.Error()
				next.NextEvaluationAt = nil
				return next, nil
			}
			retryAt := at.Add(trigger.FailureBackoff(s.failureBackoff, s.maxFailureBackoff, next.ConsecutiveFailures))
			next.NextEvaluationAt = &retryAt
			return next, nil
		}

		next.ConsecutiveFailures = 0
		next.LastError = ""
		next.Invalid = false
		next.InvalidReason = ""
		next.LastSuccessAt = &evaluatedAt
		if out.State != nil {
			next.State = out.State
		}
		next.NextEvaluationAt = out.NextEvaluationAt
		if out.NextScheduleDate != nil {
			next.NextScheduleDate = out.NextScheduleDate
		}
		if fired != nil {
			next.Phase = domain.PhaseFired
			next.LastFiredAt = &evaluatedAt
			next.LastExecutionID = fired.ID
		}
		return next, nil
	})
}
