package trigger

import (
	"context"
	"time"

	"github.com/shaiso/Orbit/internal/domain"
)

// ScheduleEvaluator вычисляет schedule trigger (cron или интервал).
//
// Правила:
//   - первая оценка только вычисляет ближайшую дату, ничего не запуская;
//   - дата ещё не наступила — trigger ждёт её;
//   - дата наступила — берётся последняя пропущенная дата (без backfill),
//     и если все условия на неё истинны, создаётся кандидат;
//   - в любом случае следующая дата считается от now, поэтому ложное
//     условие никогда не зацикливает trigger на одной дате.
type ScheduleEvaluator struct{}

// NewScheduleEvaluator создаёт ScheduleEvaluator.
func NewScheduleEvaluator() *ScheduleEvaluator {
	return &ScheduleEvaluator{}
}

// Evaluate реализует Evaluator.
func (e *ScheduleEvaluator) Evaluate(ctx context.Context, ec EvalContext, def *domain.TriggerDef, tc *domain.TriggerContext) (Outcome, error) {
	sched, err := parseSchedule(def)
	if err != nil {
		return Outcome{}, err
	}
	now := ec.Now

	if tc.NextScheduleDate == nil {
		next := sched.next(now)
		return Outcome{NextScheduleDate: &next, NextEvaluationAt: &next}, nil
	}

	date := *tc.NextScheduleDate
	if now.Before(date) {
		return Outcome{NextScheduleDate: &date, NextEvaluationAt: &date}, nil
	}

	date = sched.latest(date, now)
	next := sched.next(now)
	out := Outcome{NextScheduleDate: &next, NextEvaluationAt: &next}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	ok, err := conditionsHold(def.Conditions, date.In(sched.loc))
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return out, nil
	}

	key := domain.TriggerKey{Flow: ec.Flow.Key(), TriggerID: def.ID}
	fired := date
	exec := NewCandidate(ec.Flow, def, now, domain.ExecutionTrigger{
		Type:      domain.TriggerSchedule,
		TriggerID: def.ID,
		Date:      &fired,
		Variables: map[string]any{
			"date":     fired.Format(time.RFC3339),
			"next":     next.Format(time.RFC3339),
			"timezone": sched.loc.String(),
		},
	})
	exec.ID = ExecutionID(key, fired.Format(time.RFC3339))
	exec.Metadata.CreatedBy = ec.CreatedBy
	out.Candidate = exec
	return out, nil
}
