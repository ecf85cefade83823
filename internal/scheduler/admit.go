package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Orbit/internal/audit"
	"github.com/shaiso/Orbit/internal/concurrency"
	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
	"github.com/shaiso/Orbit/internal/window"
)

func executionKey(id string) string {
	return store.PrefixExecution + id
}

// admitCandidate принимает кандидата trigger'а. Trigger, входящий в
// composite, только отмечает своё условие в окне; execution создаётся,
// когда окно собрано.
//
// Возвращает nil без ошибки, если окно ещё не собрано.
func (s *Scheduler) admitCandidate(ctx context.Context, flow *domain.FlowDescriptor, def *domain.TriggerDef, cand *domain.Execution) (*domain.Execution, error) {
	if def.Composite == "" {
		return s.admit(ctx, flow, cand)
	}

	comp := flow.Composite(def.Composite)
	if comp == nil {
		return nil, fmt.Errorf("%w: unknown composite %q", trigger.ErrInvalidTrigger, def.Composite)
	}

	ts := cand.CreatedAt
	if cand.Trigger.Date != nil {
		ts = *cand.Trigger.Date
	}

	ev, err := s.windows.Record(ctx, flow.Key(), comp, def.ID, ts)
	if err != nil {
		return nil, fmt.Errorf("record composite member: %w", err)
	}

	compositeKey := window.CompositeKey(flow.Key(), comp.ID)
	if ev == nil {
		s.audit.Emit(audit.Event{
			Kind:        audit.KindCompositeMember,
			At:          ts,
			Flow:        flow.Key(),
			TriggerID:   def.ID,
			CompositeID: compositeKey,
		})
		return nil, nil
	}

	exec := s.compositeExecution(flow, comp, ev, cand.CreatedAt)
	s.audit.Emit(audit.Event{
		Kind:        audit.KindCompositeFired,
		At:          ev.FiredAt,
		Flow:        flow.Key(),
		TriggerID:   def.ID,
		CompositeID: compositeKey,
		ExecutionID: exec.ID,
	})
	return s.admit(ctx, flow, exec)
}

// compositeExecution строит execution собранного окна. ID зависит от начала
// окна: повторная обработка того же события не создаёт дубль.
func (s *Scheduler) compositeExecution(flow *domain.FlowDescriptor, comp *domain.CompositeDef, ev *domain.FireEvent, now time.Time) *domain.Execution {
	exec := domain.NewExecution(flow.Key(), domain.ExecutionTrigger{
		Type:      domain.TriggerComposite,
		TriggerID: comp.ID,
		Members:   ev.Members,
		Variables: map[string]any{
			"window_start":    ev.Start.Format(time.RFC3339Nano),
			"window_deadline": ev.Deadline.Format(time.RFC3339Nano),
		},
	}, now)

	key := domain.TriggerKey{Flow: flow.Key(), TriggerID: "composite:" + comp.ID}
	exec.ID = trigger.ExecutionID(key, ev.Start.Format(time.RFC3339Nano))
	exec.FlowRevision = flow.Revision
	exec.Inputs = trigger.MergeInputs(flow.Inputs, comp.Inputs)
	exec.Metadata.CreatedBy = s.owner
	return exec
}

// admit проводит новый execution через concurrency gate и сохраняет его.
//
// Итоговое состояние зависит от решения лимитера:
//   - Proceed — RUNNING
//   - Queue — QUEUED
//   - Reject — CANCELLED или FAILED по политике flow
//
// Повторный вызов с тем же ID возвращает уже сохранённый execution.
func (s *Scheduler) admit(ctx context.Context, flow *domain.FlowDescriptor, cand *domain.Execution) (*domain.Execution, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "execution.admit",
		attribute.String(telemetry.AttrFlow, flow.Key().String()),
		attribute.String(telemetry.AttrExecutionID, cand.ID),
	)
	defer span.End()

	logger := telemetry.WithExecutionID(s.logger, cand.ID)

	existing, _, err := store.Load[domain.Execution](ctx, s.store, executionKey(cand.ID))
	if err == nil {
		logger.Debug("execution already admitted", "state", existing.State.Current)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		telemetry.SetError(span, err)
		return nil, fmt.Errorf("load execution: %w", err)
	}

	decision, err := s.limiter.TryAcquire(ctx, flow.Key(), flow.Concurrency, cand.ID, cand.CreatedAt)
	if err != nil {
		telemetry.SetError(span, err)
		return nil, err
	}

	at := s.now()
	if at.Before(cand.CreatedAt) {
		at = cand.CreatedAt
	}

	target := domain.StateRunning
	switch decision {
	case concurrency.Queue:
		target = domain.StateQueued
	case concurrency.Reject:
		target = domain.StateCancelled
		if flow.Concurrency.Policy() == domain.OverflowFail {
			target = domain.StateFailed
		}
	}

	exec, err := cand.Transition(target, at)
	if err != nil {
		s.releaseSlot(ctx, cand.FlowKey(), cand.ID, decision)
		return nil, err
	}
	exec.Metadata.OverflowDecision = string(decision)
	exec.Metadata.UpdatedAt = at

	if _, err := store.Save(ctx, s.store, executionKey(exec.ID), exec, 0); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// другая реплика успела раньше
			stored, _, lerr := store.Load[domain.Execution](ctx, s.store, executionKey(exec.ID))
			if lerr == nil {
				return stored, nil
			}
			err = lerr
		}
		s.releaseSlot(ctx, exec.FlowKey(), exec.ID, decision)
		telemetry.SetError(span, err)
		return nil, fmt.Errorf("save execution: %w", err)
	}

	telemetry.ExecutionsCreated.WithLabelValues(string(decision)).Inc()
	span.SetAttributes(attribute.String(telemetry.AttrState, string(exec.State.Current)))

	if err := s.queue.Publish(ctx, mq.TopicExecutions, mq.MessageTypeExecutionCreated, mq.ExecutionCreated{Execution: exec}); err != nil {
		logger.Warn("failed to publish execution created", "error", err)
	}
	s.audit.Emit(audit.Event{
		Kind:        audit.KindExecutionCreated,
		At:          at,
		Flow:        exec.FlowKey(),
		TriggerID:   exec.Trigger.TriggerID,
		ExecutionID: exec.ID,
		To:          exec.State.Current,
		Reason:      string(decision),
	})
	logger.Info("execution created",
		"flow", exec.FlowKey().String(),
		"trigger", exec.Trigger.TriggerID,
		"state", exec.State.Current,
		"decision", decision,
	)

	switch {
	case decision == concurrency.Queue:
		// слот мог освободиться между решением и записью execution
		s.startIfHeld(ctx, exec)
	case exec.IsFinished():
		s.afterTerminal(ctx, exec)
	}
	return exec, nil
}

// releaseSlot освобождает слот и стартует executions, которым он достался.
func (s *Scheduler) releaseSlot(ctx context.Context, flow domain.FlowKey, id string, decision concurrency.Decision) {
	if decision == concurrency.Reject {
		return
	}
	promoted, _, err := s.limiter.Release(ctx, flow, id)
	if err != nil {
		s.logger.Error("failed to release concurrency slot",
			"flow", flow.String(), "execution_id", id, "error", err)
		return
	}
	s.startPromoted(ctx, promoted)
}

func (s *Scheduler) startIfHeld(ctx context.Context, exec *domain.Execution) {
	snap, err := s.limiter.Snapshot(ctx, exec.FlowKey())
	if err != nil || snap == nil || !snap.Holds(exec.ID) {
		return
	}
	s.startPromoted(ctx, []string{exec.ID})
}

// startPromoted переводит executions, получившие слот, из QUEUED в RUNNING.
func (s *Scheduler) startPromoted(ctx context.Context, ids []string) {
	for _, id := range ids {
		_, err := s.Transition(ctx, id, domain.StateRunning, s.now(), "promoted")
		if err == nil {
			continue
		}
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From == domain.StateRunning {
			continue
		}
		s.logger.Warn("failed to start promoted execution", "execution_id", id, "error", err)
	}
}
