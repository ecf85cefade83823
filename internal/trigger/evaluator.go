package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Orbit/internal/domain"
)

// EvalContext — read-only контекст вычисления.
type EvalContext struct {
	// Flow — flow, которому принадлежит trigger.
	Flow *domain.FlowDescriptor

	// Now — момент вычисления.
	Now time.Time

	// CreatedBy — кто вычисляет (replica scheduler'а или evaluator).
	CreatedBy string
}

// Outcome — результат успешного вычисления.
type Outcome struct {
	// Candidate — execution-кандидат; nil, если запускать нечего.
	Candidate *domain.Execution

	// State — новое внутреннее состояние trigger (nil — без изменений).
	State map[string]any

	// NextEvaluationAt — не вычислять раньше этого момента.
	NextEvaluationAt *time.Time

	// NextScheduleDate — следующая плановая дата (schedule trigger).
	NextScheduleDate *time.Time
}

// Evaluator — вычисление trigger одного типа.
type Evaluator interface {
	Evaluate(ctx context.Context, ec EvalContext, def *domain.TriggerDef, tc *domain.TriggerContext) (Outcome, error)
}

// Evaluators — набор вычислителей по типу trigger.
type Evaluators struct {
	Schedule Evaluator
	Polling  Evaluator
}

// NewEvaluators создаёт стандартный набор.
func NewEvaluators(defaultPollInterval time.Duration) *Evaluators {
	return &Evaluators{
		Schedule: NewScheduleEvaluator(),
		Polling:  NewPollingEvaluator(defaultPollInterval),
	}
}

// For возвращает вычислитель для trigger.
// Flow-триггеры реагируют на события executions и по тикам не вычисляются.
func (e *Evaluators) For(def *domain.TriggerDef) (Evaluator, error) {
	switch def.Type {
	case domain.TriggerSchedule:
		return e.Schedule, nil
	case domain.TriggerPolling:
		return e.Polling, nil
	case domain.TriggerFlow:
		return nil, ErrNotPolled
	}
	return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, def.Type)
}

// Run вычисляет trigger с таймаутом.
//
// Любая ошибка, паника или превышение таймаута превращаются в
// *EvaluationError; цикл scheduler'а их только записывает.
func Run(ctx context.Context, ev Evaluator, ec EvalContext, def *domain.TriggerDef, tc *domain.TriggerContext, timeout time.Duration) (Outcome, *EvaluationError) {
	key := domain.TriggerKey{Flow: ec.Flow.Key(), TriggerID: def.ID}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := ev.Evaluate(ctx, ec, def, tc)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		return Outcome{}, classify(key, r.err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{}, &EvaluationError{Key: key, Err: ErrTimeout, Timeout: true}
		}
		return Outcome{}, &EvaluationError{Key: key, Err: ctx.Err()}
	}
}

func classify(key domain.TriggerKey, err error) *EvaluationError {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	return &EvaluationError{
		Key:     key,
		Err:     err,
		Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout),
		Invalid: errors.Is(err, ErrInvalidTrigger),
	}
}

// orbitNamespace — пространство имён для детерминированных ID executions.
var orbitNamespace = uuid.MustParse("6f1c2a57-3d8e-4b8a-9c41-5a0d9e7b2f10")

// ExecutionID возвращает детерминированный ID execution для пары
// (trigger, discriminator). Повторно доставленный результат вычисления
// получает тот же ID и не создаёт второй execution.
func ExecutionID(key domain.TriggerKey, discriminator string) string {
	return uuid.NewSHA1(orbitNamespace, []byte(key.String()+"|"+discriminator)).String()
}

// NewCandidate создаёт execution-кандидат для trigger.
// Inputs flow дополняются (и перекрываются) inputs trigger.
func NewCandidate(flow *domain.FlowDescriptor, def *domain.TriggerDef, now time.Time, trig domain.ExecutionTrigger) *domain.Execution {
	exec := domain.NewExecution(flow.Key(), trig, now)
	exec.FlowRevision = flow.Revision
	exec.Inputs = MergeInputs(flow.Inputs, def.Inputs)
	return exec
}

// MergeInputs объединяет слои inputs; поздние слои перекрывают ранние.
func MergeInputs(layers ...map[string]any) map[string]any {
	var out map[string]any
	for _, layer := range layers {
		for k, v := range layer {
			if out == nil {
				out = make(map[string]any)
			}
			out[k] = v
		}
	}
	return out
}

// Validate проверяет определение trigger без вычисления.
func Validate(def *domain.TriggerDef) error {
	switch def.Type {
	case domain.TriggerSchedule:
		if _, err := parseSchedule(def); err != nil {
			return err
		}
		for i := range def.Conditions {
			if err := validateCondition(&def.Conditions[i]); err != nil {
				return err
			}
		}
	case domain.TriggerPolling:
		if def.Poll == nil || def.Poll.Condition == "" {
			return fmt.Errorf("%w: polling trigger without condition", ErrInvalidTrigger)
		}
		if _, err := compilePollCondition(def.Poll.Condition); err != nil {
			return err
		}
	case domain.TriggerFlow:
		if def.Flow == nil || def.Flow.FlowID == "" || def.Flow.Namespace == "" {
			return fmt.Errorf("%w: flow trigger without upstream flow", ErrInvalidTrigger)
		}
		for _, st := range def.Flow.States {
			if !st.IsTerminal() {
				return fmt.Errorf("%w: flow trigger state %s is not terminal", ErrInvalidTrigger, st)
			}
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, def.Type)
	}
	return nil
}
