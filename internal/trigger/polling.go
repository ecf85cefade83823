package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/shaiso/Orbit/internal/domain"
)

// pollEnv — окружение условия polling trigger.
//
// Пример условия: `lastFired.IsZero() || now.Sub(lastFired).Hours() >= 6`.
type pollEnv struct {
	Now         time.Time      `expr:"now"`
	Tenant      string         `expr:"tenant"`
	Namespace   string         `expr:"namespace"`
	Flow        string         `expr:"flow"`
	Trigger     string         `expr:"trigger"`
	LastFired   time.Time      `expr:"lastFired"`
	LastSuccess time.Time      `expr:"lastSuccess"`
	State       map[string]any `expr:"state"`
	Inputs      map[string]any `expr:"inputs"`
}

func compilePollCondition(source string) (*vm.Program, error) {
	return compileCached("poll", source, expr.Env(pollEnv{}), expr.AsBool())
}

// PollingEvaluator вычисляет polling trigger: expr-условие, проверяемое
// раз в интервал. Истинное условие порождает кандидата.
type PollingEvaluator struct {
	defaultInterval time.Duration
}

// NewPollingEvaluator создаёт PollingEvaluator.
func NewPollingEvaluator(defaultInterval time.Duration) *PollingEvaluator {
	if defaultInterval <= 0 {
		defaultInterval = time.Minute
	}
	return &PollingEvaluator{defaultInterval: defaultInterval}
}

// Interval возвращает период проверки trigger.
func (e *PollingEvaluator) Interval(def *domain.TriggerDef) time.Duration {
	if def.Poll != nil && def.Poll.Interval.Std() > 0 {
		return def.Poll.Interval.Std()
	}
	return e.defaultInterval
}

// Evaluate реализует Evaluator.
func (e *PollingEvaluator) Evaluate(ctx context.Context, ec EvalContext, def *domain.TriggerDef, tc *domain.TriggerContext) (Outcome, error) {
	if def.Poll == nil || def.Poll.Condition == "" {
		return Outcome{}, fmt.Errorf("%w: polling trigger without condition", ErrInvalidTrigger)
	}
	program, err := compilePollCondition(def.Poll.Condition)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	env := pollEnv{
		Now:       ec.Now,
		Tenant:    ec.Flow.Tenant,
		Namespace: ec.Flow.Namespace,
		Flow:      ec.Flow.ID,
		Trigger:   def.ID,
		State:     tc.State,
		Inputs:    def.Inputs,
	}
	if tc.LastFiredAt != nil {
		env.LastFired = *tc.LastFiredAt
	}
	if tc.LastSuccessAt != nil {
		env.LastSuccess = *tc.LastSuccessAt
	}

	res, err := expr.Run(program, env)
	if err != nil {
		return Outcome{}, fmt.Errorf("run condition: %w", err)
	}
	matched, _ := res.(bool)

	state := make(map[string]any, len(tc.State)+2)
	for k, v := range tc.State {
		state[k] = v
	}
	state["evaluations"] = toInt(state["evaluations"]) + 1
	state["last_result"] = matched

	next := ec.Now.Add(e.Interval(def))
	out := Outcome{State: state, NextEvaluationAt: &next}
	if !matched {
		return out, nil
	}

	exec := NewCandidate(ec.Flow, def, ec.Now, domain.ExecutionTrigger{
		Type:      domain.TriggerPolling,
		TriggerID: def.ID,
		Variables: map[string]any{
			"condition":    def.Poll.Condition,
			"evaluated_at": ec.Now.Format(time.RFC3339),
		},
	})
	exec.ID = ExecutionID(domain.TriggerKey{Flow: ec.Flow.Key(), TriggerID: def.ID}, pollDiscriminator(tc))
	exec.Metadata.CreatedBy = ec.CreatedBy
	out.Candidate = exec
	return out, nil
}

// pollDiscriminator привязывает ID execution к предыдущему вычислению:
// реплики, прочитавшие один и тот же контекст, получат один ID.
func pollDiscriminator(tc *domain.TriggerContext) string {
	if tc.LastEvaluatedAt == nil {
		return "poll|initial"
	}
	return "poll|" + tc.LastEvaluatedAt.UTC().Format(time.RFC3339Nano)
}

// toInt приводит число из JSON-состояния (float64 после декодирования) к int.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
