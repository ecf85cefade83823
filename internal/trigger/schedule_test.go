package trigger

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
)

// 2 марта 2026 — понедельник.
var monday = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func testFlow(triggers ...domain.TriggerDef) *domain.FlowDescriptor {
	return &domain.FlowDescriptor{
		Tenant:    "main",
		Namespace: "company.team",
		ID:        "daily",
		Revision:  3,
		Inputs:    map[string]any{"env": "prod", "region": "eu"},
		Triggers:  triggers,
	}
}

func evalSchedule(t *testing.T, def domain.TriggerDef, tc *domain.TriggerContext, now time.Time) Outcome {
	t.Helper()
	flow := testFlow(def)
	out, err := NewScheduleEvaluator().Evaluate(context.Background(), EvalContext{Flow: flow, Now: now, CreatedBy: "replica-1"}, &flow.Triggers[0], tc)
	require.NoError(t, err)
	return out
}

func TestSchedule_FirstEvaluationOnlyPlans(t *testing.T) {
	def := domain.TriggerDef{ID: "nine", Type: domain.TriggerSchedule, Cron: "0 9 * * *"}
	out := evalSchedule(t, def, &domain.TriggerContext{}, monday)

	assert.Nil(t, out.Candidate)
	require.NotNil(t, out.NextScheduleDate)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), *out.NextScheduleDate)
	assert.Equal(t, out.NextScheduleDate, out.NextEvaluationAt)
}

func TestSchedule_WaitsForDate(t *testing.T) {
	def := domain.TriggerDef{ID: "nine", Type: domain.TriggerSchedule, Cron: "0 9 * * *"}
	date := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	out := evalSchedule(t, def, &domain.TriggerContext{NextScheduleDate: &date}, date.Add(-time.Second))
	assert.Nil(t, out.Candidate)
	assert.Equal(t, date, *out.NextScheduleDate)
	assert.Equal(t, date, *out.NextEvaluationAt)
}

func TestSchedule_FiresOnDate(t *testing.T) {
	def := domain.TriggerDef{
		ID:     "nine",
		Type:   domain.TriggerSchedule,
		Cron:   "0 9 * * *",
		Inputs: map[string]any{"region": "us"},
	}
	date := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	out := evalSchedule(t, def, &domain.TriggerContext{NextScheduleDate: &date}, date.Add(5*time.Second))
	require.NotNil(t, out.Candidate)

	exec := out.Candidate
	assert.Equal(t, domain.StateCreated, exec.State.Current)
	assert.Equal(t, domain.TriggerSchedule, exec.Trigger.Type)
	assert.Equal(t, "nine", exec.Trigger.TriggerID)
	require.NotNil(t, exec.Trigger.Date)
	assert.Equal(t, date, *exec.Trigger.Date)
	assert.Equal(t, 3, exec.FlowRevision)
	assert.Equal(t, "replica-1", exec.Metadata.CreatedBy)
	assert.Equal(t, map[string]any{"env": "prod", "region": "us"}, exec.Inputs)

	key := domain.TriggerKey{Flow: domain.FlowKey{Tenant: "main", Namespace: "company.team", FlowID: "daily"}, TriggerID: "nine"}
	assert.Equal(t, ExecutionID(key, "2026-03-02T09:00:00Z"), exec.ID)

	assert.Equal(t, date.Add(24*time.Hour), *out.NextScheduleDate)
}

func TestSchedule_MissedDatesFireOnce(t *testing.T) {
	def := domain.TriggerDef{ID: "nine", Type: domain.TriggerSchedule, Cron: "0 9 * * *"}
	stored := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	out := evalSchedule(t, def, &domain.TriggerContext{NextScheduleDate: &stored}, now)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), *out.Candidate.Trigger.Date)
	assert.Equal(t, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), *out.NextScheduleDate)
}

func TestSchedule_Interval(t *testing.T) {
	def := domain.TriggerDef{ID: "often", Type: domain.TriggerSchedule, Interval: domain.Duration(15 * time.Minute)}
	out := evalSchedule(t, def, &domain.TriggerContext{}, monday)
	assert.Equal(t, monday.Add(15*time.Minute), *out.NextScheduleDate)
}

func TestSchedule_Timezone(t *testing.T) {
	def := domain.TriggerDef{ID: "nine", Type: domain.TriggerSchedule, Cron: "0 9 * * *", Timezone: "Europe/Berlin"}
	out := evalSchedule(t, def, &domain.TriggerContext{}, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	// в марте Berlin = UTC+1
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), *out.NextScheduleDate)
}

func TestSchedule_FalseConditionAdvances(t *testing.T) {
	def := domain.TriggerDef{
		ID:   "nine",
		Type: domain.TriggerSchedule,
		Cron: "0 9 * * *",
		Conditions: []domain.ScheduleCondition{
			{Type: domain.ConditionDayOfWeek, DaysOfWeek: []string{"SATURDAY"}},
		},
	}
	date := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	out := evalSchedule(t, def, &domain.TriggerContext{NextScheduleDate: &date}, date)
	assert.Nil(t, out.Candidate)
	assert.Equal(t, date.Add(24*time.Hour), *out.NextScheduleDate, "ложное условие не должно держать trigger на той же дате")
}

func TestConditionHolds(t *testing.T) {
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cond domain.ScheduleCondition
		date time.Time
		want bool
	}{
		{"day of week match", domain.ScheduleCondition{Type: domain.ConditionDayOfWeek, DaysOfWeek: []string{"monday", "FRIDAY"}}, monday, true},
		{"day of week miss", domain.ScheduleCondition{Type: domain.ConditionDayOfWeek, DaysOfWeek: []string{"SUNDAY"}}, monday, false},
		{"day of month", domain.ScheduleCondition{Type: domain.ConditionDayOfMonth, DaysOfMonth: []int{2}}, monday, true},
		{"last day of february", domain.ScheduleCondition{Type: domain.ConditionDayOfMonth, DaysOfMonth: []int{-1}}, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), true},
		{"not last day", domain.ScheduleCondition{Type: domain.ConditionDayOfMonth, DaysOfMonth: []int{-1}}, time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC), false},
		{"weekend on sunday", domain.ScheduleCondition{Type: domain.ConditionWeekend, Weekend: true}, after, true},
		{"weekdays on monday", domain.ScheduleCondition{Type: domain.ConditionWeekend, Weekend: false}, monday, true},
		{"weekend on monday", domain.ScheduleCondition{Type: domain.ConditionWeekend, Weekend: true}, monday, false},
		{"between inclusive", domain.ScheduleCondition{Type: domain.ConditionDateBetween, After: &after, Before: &before}, after, true},
		{"between outside", domain.ScheduleCondition{Type: domain.ConditionDateBetween, After: &after, Before: &before}, before.Add(time.Second), false},
		{"open upper bound", domain.ScheduleCondition{Type: domain.ConditionDateBetween, After: &after}, before.Add(time.Hour), true},
		{"expression", domain.ScheduleCondition{Type: domain.ConditionExpression, Expression: "date.Day() == 2 && date.Hour() < 9"}, monday, true},
		{"expression false", domain.ScheduleCondition{Type: domain.ConditionExpression, Expression: "month == 12"}, monday, false},
		{"expression calendar fields", domain.ScheduleCondition{Type: domain.ConditionExpression, Expression: "month == 3 && day == 2 && weekday == 1 && hour < 12"}, monday, true},
		{"expression year", domain.ScheduleCondition{Type: domain.ConditionExpression, Expression: "year >= 2026 && minute == 30"}, monday, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conditionHolds(&tt.cond, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	after := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	valid := []domain.TriggerDef{
		{ID: "a", Type: domain.TriggerSchedule, Cron: "@daily"},
		{ID: "b", Type: domain.TriggerSchedule, Interval: domain.Duration(time.Minute), Timezone: "America/New_York"},
		{ID: "c", Type: domain.TriggerPolling, Poll: &domain.PollDef{Condition: "now.Hour() >= 9"}},
		{ID: "d", Type: domain.TriggerFlow, Flow: &domain.FlowConditionDef{Namespace: "ns", FlowID: "up", States: []domain.StateType{domain.StateFailed}}},
	}
	for _, def := range valid {
		assert.NoError(t, Validate(&def), def.ID)
	}

	invalid := []domain.TriggerDef{
		{ID: "bad-cron", Type: domain.TriggerSchedule, Cron: "every day"},
		{ID: "no-spec", Type: domain.TriggerSchedule},
		{ID: "short", Type: domain.TriggerSchedule, Interval: domain.Duration(time.Millisecond)},
		{ID: "tz", Type: domain.TriggerSchedule, Cron: "@daily", Timezone: "Mars/Olympus"},
		{ID: "dow", Type: domain.TriggerSchedule, Cron: "@daily", Conditions: []domain.ScheduleCondition{{Type: domain.ConditionDayOfWeek, DaysOfWeek: []string{"FUNDAY"}}}},
		{ID: "dom", Type: domain.TriggerSchedule, Cron: "@daily", Conditions: []domain.ScheduleCondition{{Type: domain.ConditionDayOfMonth, DaysOfMonth: []int{32}}}},
		{ID: "between", Type: domain.TriggerSchedule, Cron: "@daily", Conditions: []domain.ScheduleCondition{{Type: domain.ConditionDateBetween, After: &after, Before: &before}}},
		{ID: "expr", Type: domain.TriggerSchedule, Cron: "@daily", Conditions: []domain.ScheduleCondition{{Type: domain.ConditionExpression, Expression: "date +"}}},
		{ID: "no-poll", Type: domain.TriggerPolling},
		{ID: "not-bool", Type: domain.TriggerPolling, Poll: &domain.PollDef{Condition: "1 + 1"}},
		{ID: "no-upstream", Type: domain.TriggerFlow},
		{ID: "running", Type: domain.TriggerFlow, Flow: &domain.FlowConditionDef{Namespace: "ns", FlowID: "up", States: []domain.StateType{domain.StateRunning}}},
		{ID: "unknown", Type: domain.TriggerType("webhook")},
	}
	for _, def := range invalid {
		assert.ErrorIs(t, Validate(&def), ErrInvalidTrigger, def.ID)
	}
}

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("*/5 * * * *"))
	assert.Error(t, ValidateCronExpr("* * *"))
}
