package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
)

func pollTrigger(condition string) domain.TriggerDef {
	return domain.TriggerDef{
		ID:     "watch",
		Type:   domain.TriggerPolling,
		Poll:   &domain.PollDef{Condition: condition, Interval: domain.Duration(30 * time.Second)},
		Inputs: map[string]any{"bucket": "reports"},
	}
}

func TestPolling_ConditionTrue(t *testing.T) {
	flow := testFlow(pollTrigger(`inputs.bucket == "reports" && namespace == "company.team" && lastFired.IsZero()`))
	ev := NewPollingEvaluator(time.Minute)

	out, err := ev.Evaluate(context.Background(), EvalContext{Flow: flow, Now: monday}, &flow.Triggers[0], &domain.TriggerContext{})
	require.NoError(t, err)
	require.NotNil(t, out.Candidate)

	assert.Equal(t, domain.TriggerPolling, out.Candidate.Trigger.Type)
	assert.Equal(t, "reports", out.Candidate.Inputs["bucket"])
	assert.Equal(t, monday.Add(30*time.Second), *out.NextEvaluationAt)
	assert.Equal(t, 1, out.State["evaluations"])
	assert.Equal(t, true, out.State["last_result"])
}

func TestPolling_ConditionFalse(t *testing.T) {
	fired := monday.Add(-time.Minute)
	flow := testFlow(pollTrigger(`lastFired.IsZero() || now.Sub(lastFired).Hours() >= 1`))
	ev := NewPollingEvaluator(time.Minute)

	tc := &domain.TriggerContext{LastFiredAt: &fired, State: map[string]any{"evaluations": float64(4)}}
	out, err := ev.Evaluate(context.Background(), EvalContext{Flow: flow, Now: monday}, &flow.Triggers[0], tc)
	require.NoError(t, err)

	assert.Nil(t, out.Candidate)
	assert.Equal(t, 5, out.State["evaluations"])
	assert.Equal(t, false, out.State["last_result"])
	assert.Equal(t, float64(4), tc.State["evaluations"], "исходное состояние не меняется")
}

func TestPolling_CandidateIDFollowsPreviousEvaluation(t *testing.T) {
	flow := testFlow(pollTrigger("true"))
	def := &flow.Triggers[0]
	ev := NewPollingEvaluator(time.Minute)
	ctx := context.Background()

	evaluate := func(tc *domain.TriggerContext, now time.Time) string {
		t.Helper()
		out, err := ev.Evaluate(ctx, EvalContext{Flow: flow, Now: now}, def, tc)
		require.NoError(t, err)
		require.NotNil(t, out.Candidate)
		return out.Candidate.ID
	}

	// две реплики с одним и тем же контекстом получают один ID
	prev := monday.Add(-30 * time.Second)
	first := evaluate(&domain.TriggerContext{LastEvaluatedAt: &prev}, monday)
	second := evaluate(&domain.TriggerContext{LastEvaluatedAt: &prev}, monday.Add(time.Millisecond))
	assert.Equal(t, first, second)

	// следующее вычисление получает новый ID
	next := evaluate(&domain.TriggerContext{LastEvaluatedAt: &monday}, monday.Add(30*time.Second))
	assert.NotEqual(t, first, next)

	assert.NotEqual(t, first, evaluate(&domain.TriggerContext{}, monday), "первое вычисление тоже детерминировано")
	assert.Equal(t, evaluate(&domain.TriggerContext{}, monday), evaluate(&domain.TriggerContext{}, monday))
}

func TestPolling_DefaultInterval(t *testing.T) {
	def := pollTrigger("true")
	def.Poll.Interval = 0
	assert.Equal(t, 2*time.Minute, NewPollingEvaluator(2*time.Minute).Interval(&def))
	assert.Equal(t, time.Minute, NewPollingEvaluator(0).Interval(&def))
}

func TestPolling_InvalidCondition(t *testing.T) {
	flow := testFlow(pollTrigger("unknownVar > 3"))
	_, err := NewPollingEvaluator(time.Minute).Evaluate(context.Background(), EvalContext{Flow: flow, Now: monday}, &flow.Triggers[0], &domain.TriggerContext{})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}
