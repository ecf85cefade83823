package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Orbit/internal/audit"
	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/concurrency"
	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
)

// Get возвращает execution по ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.Execution, error) {
	exec, _, err := store.Load[domain.Execution](ctx, s.store, executionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return exec, err
}

// Transition переводит execution в target.
//
// Недопустимый переход отклоняется с *domain.InvalidTransitionError,
// execution не меняется. Терминальный переход освобождает слот
// concurrency и запускает flow-триггеры, ожидающие этот flow.
func (s *Scheduler) Transition(ctx context.Context, id string, target domain.StateType, at time.Time, reason string) (*domain.Execution, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "execution.transition",
		attribute.String(telemetry.AttrExecutionID, id),
		attribute.String(telemetry.AttrState, string(target)),
	)
	defer span.End()

	var (
		prev, next *domain.Execution
		attempt    int
	)
	err := store.Mutate(ctx, s.store, executionKey(id), s.retry, func(cur *domain.Execution) (*domain.Execution, error) {
		if attempt++; attempt > 1 {
			telemetry.StoreConflicts.WithLabelValues("execution").Inc()
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		out, err := cur.Transition(target, at)
		if err != nil {
			prev = cur
			return nil, err
		}
		out.Metadata.UpdatedAt = at
		prev, next = cur, out
		return out, nil
	})

	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		telemetry.RejectedTransitions.WithLabelValues(string(invalid.Reason)).Inc()
		telemetry.SetError(span, err)
		if prev != nil && prev.IsFinished() {
			// повторное событие о завершении: освобождение слота идемпотентно
			s.releaseSlot(ctx, prev.FlowKey(), prev.ID, concurrency.Decision(prev.Metadata.OverflowDecision))
		}
		return nil, err
	}
	if err != nil {
		telemetry.SetError(span, err)
		return nil, err
	}

	telemetry.Transitions.WithLabelValues(string(target)).Inc()

	change := mq.ExecutionStateChanged{
		ExecutionID: next.ID,
		Flow:        next.FlowKey(),
		From:        prev.State.Current,
		To:          next.State.Current,
		At:          at,
		Execution:   next,
	}
	if err := s.queue.Publish(ctx, mq.TopicExecutions, mq.MessageTypeExecutionStateChanged, change); err != nil {
		s.logger.Warn("failed to publish state change", "execution_id", id, "error", err)
	}
	s.audit.Emit(audit.Event{
		Kind:        audit.KindTransition,
		At:          at,
		Flow:        next.FlowKey(),
		TriggerID:   next.Trigger.TriggerID,
		ExecutionID: next.ID,
		From:        prev.State.Current,
		To:          next.State.Current,
		Reason:      reason,
	})
	telemetry.WithExecutionID(s.logger, id).Info("execution transitioned",
		"from", prev.State.Current,
		"to", next.State.Current,
		"reason", reason,
	)

	if next.IsFinished() {
		s.afterTerminal(ctx, next)
	}
	return next, nil
}

// afterTerminal выполняется ровно один раз на каждый терминальный переход.
func (s *Scheduler) afterTerminal(ctx context.Context, exec *domain.Execution) {
	s.releaseSlot(ctx, exec.FlowKey(), exec.ID, concurrency.Decision(exec.Metadata.OverflowDecision))
	s.fireFlowTriggers(ctx, exec)
}

// fireFlowTriggers создаёт executions flow-триггеров, которые ждут
// завершения upstream. Отклонённые лимитером executions не порождают
// downstream-запусков.
func (s *Scheduler) fireFlowTriggers(ctx context.Context, upstream *domain.Execution) {
	if upstream.Metadata.OverflowDecision == string(concurrency.Reject) {
		return
	}

	flows, err := s.catalog.ListActiveFlows(ctx, upstream.Tenant)
	if err != nil {
		s.logger.Error("failed to list flows for flow triggers", "execution_id", upstream.ID, "error", err)
		return
	}

	now := s.now()
	for _, m := range trigger.MatchFlowTriggers(flows, upstream) {
		key := domain.TriggerKey{Flow: m.Flow.Key(), TriggerID: m.Trigger.ID}

		var (
			out     trigger.Outcome
			evalErr *trigger.EvaluationError
		)
		if err := s.validate(m.Flow, m.Trigger); err != nil {
			evalErr = &trigger.EvaluationError{Key: key, Err: err, Invalid: true}
		} else {
			out.Candidate = trigger.FlowCandidate(m, upstream, now, s.owner)
		}

		if _, err := s.applyOutcome(ctx, m.Flow, m.Trigger, now, out, evalErr); err != nil {
			telemetry.WithTriggerKey(s.logger, key).Error("failed to apply flow trigger", "error", err)
		}
	}
}

// Kill запрашивает остановку execution: RUNNING → KILLING. Execution,
// который ещё не стартовал, сразу переходит в KILLED.
func (s *Scheduler) Kill(ctx context.Context, id, reason string) (*domain.Execution, error) {
	at := s.now()
	exec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if last, ok := exec.State.Last(); ok && at.Before(last.Date) {
		at = last.Date
	}

	killing, err := s.Transition(ctx, id, domain.StateKilling, at, reason)
	if err != nil {
		return nil, err
	}
	s.audit.Emit(audit.Event{
		Kind:        audit.KindKillRequested,
		At:          at,
		Flow:        killing.FlowKey(),
		ExecutionID: id,
		From:        exec.State.Current,
		To:          domain.StateKilling,
		Reason:      reason,
	})

	switch exec.State.Current {
	case domain.StateCreated, domain.StateQueued:
		// выполнять нечего: задачи не запускались
		return s.Transition(ctx, id, domain.StateKilled, at, reason)
	}
	return killing, nil
}

// Submit создаёт execution вручную, в обход триггеров.
func (s *Scheduler) Submit(ctx context.Context, key domain.FlowKey, inputs map[string]any, createdBy string) (*domain.Execution, error) {
	flow, err := s.catalog.Get(ctx, key)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	if flow.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrFlowDisabled, key)
	}

	exec := domain.NewExecution(flow.Key(), domain.ExecutionTrigger{Type: domain.TriggerManual}, s.now())
	exec.FlowRevision = flow.Revision
	exec.Inputs = trigger.MergeInputs(flow.Inputs, inputs)
	exec.Metadata.CreatedBy = createdBy
	if exec.Metadata.CreatedBy == "" {
		exec.Metadata.CreatedBy = s.owner
	}
	return s.admit(ctx, flow, exec)
}

// HandleTransition обрабатывает запросы переходов из очереди
// (от воркеров и внешних клиентов).
func (s *Scheduler) HandleTransition(ctx context.Context, msg *mq.Message) error {
	req, err := mq.ParsePayload[mq.TransitionRequest](msg)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	if req.State == domain.StateKilling {
		_, err = s.Kill(ctx, req.ExecutionID, req.Reason)
	} else {
		_, err = s.Transition(ctx, req.ExecutionID, req.State, at, req.Reason)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, ErrExecutionNotFound):
		// повтор не поможет
		s.logger.Warn("transition request rejected",
			"execution_id", req.ExecutionID,
			"state", req.State,
			"error", err,
		)
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	default:
		return err
	}
}
