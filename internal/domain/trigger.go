package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TriggerType — тип trigger.
type TriggerType string

const (
	// TriggerManual — execution создан вручную (не trigger flow).
	TriggerManual TriggerType = "manual"

	// TriggerSchedule — запуск по cron или интервалу.
	TriggerSchedule TriggerType = "schedule"

	// TriggerPolling — периодическая проверка условия.
	TriggerPolling TriggerType = "polling"

	// TriggerFlow — реакция на завершение execution другого flow.
	TriggerFlow TriggerType = "flow"

	// TriggerComposite — execution создан composite-условием.
	TriggerComposite TriggerType = "composite"
)

// TriggerDef — определение trigger в flow.
type TriggerDef struct {
	// ID — идентификатор trigger внутри flow.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Type — schedule, polling или flow.
	Type TriggerType `json:"type" yaml:"type" validate:"required,oneof=schedule polling flow"`

	// Disabled — отключённый trigger не вычисляется.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Cron — cron-выражение ("0 9 * * *"). Для schedule trigger.
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Interval — интервал между запусками, если Cron не задан.
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Timezone — часовой пояс для cron (по умолчанию UTC).
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Conditions — дополнительные условия на дату (только schedule).
	Conditions []ScheduleCondition `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`

	// Poll — настройки polling trigger.
	Poll *PollDef `json:"poll,omitempty" yaml:"poll,omitempty"`

	// Flow — условие на execution другого flow.
	Flow *FlowConditionDef `json:"flow,omitempty" yaml:"flow,omitempty"`

	// Timeout — таймаут вычисления. 0 — значение по умолчанию.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Composite — ID composite-условия, членом которого является trigger.
	Composite string `json:"composite,omitempty" yaml:"composite,omitempty"`

	// Inputs — входные параметры execution.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Fingerprint — хеш определения. Используется, чтобы понять, что
// невалидный trigger был исправлен.
func (t *TriggerDef) Fingerprint() string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// PollDef — настройки polling trigger.
type PollDef struct {
	// Condition — expr-выражение, возвращающее bool.
	// Например: `now.Hour() >= 9 && lastSuccess.IsZero()`.
	Condition string `json:"condition" yaml:"condition" validate:"required"`

	// Interval — период проверки. 0 — значение по умолчанию.
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// FlowConditionDef — условие на завершение execution другого flow.
type FlowConditionDef struct {
	Namespace string      `json:"namespace" yaml:"namespace" validate:"required"`
	FlowID    string      `json:"flow_id" yaml:"flow_id" validate:"required"`
	States    []StateType `json:"states,omitempty" yaml:"states,omitempty"`
}

// Matches проверяет, подходит ли завершённый execution под условие.
// Пустой States означает SUCCESS.
func (c *FlowConditionDef) Matches(exec *Execution) bool {
	if c == nil || exec == nil {
		return false
	}
	if exec.Namespace != c.Namespace || exec.FlowID != c.FlowID {
		return false
	}
	states := c.States
	if len(states) == 0 {
		states = []StateType{StateSuccess}
	}
	for _, st := range states {
		if exec.State.Current == st {
			return true
		}
	}
	return false
}

// ScheduleConditionType — тип условия на дату.
type ScheduleConditionType string

const (
	ConditionDayOfWeek   ScheduleConditionType = "dayOfWeek"
	ConditionDayOfMonth  ScheduleConditionType = "dayOfMonth"
	ConditionWeekend     ScheduleConditionType = "weekend"
	ConditionDateBetween ScheduleConditionType = "dateBetween"
	ConditionExpression  ScheduleConditionType = "expression"
)

// ScheduleCondition — предикат на дату запуска.
//
// Условие зависит только от даты кандидата. Внешнее изменяемое состояние
// запрещено: trigger опрашивается чаще раза в минуту, и условие, которое
// никогда не становится истинным, не должно зацикливать планировщик.
type ScheduleCondition struct {
	Type ScheduleConditionType `json:"type" yaml:"type" validate:"required,oneof=dayOfWeek dayOfMonth weekend dateBetween expression"`

	// DaysOfWeek — для dayOfWeek ("MONDAY", "TUESDAY", ...).
	DaysOfWeek []string `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`

	// DaysOfMonth — для dayOfMonth (1..31, -1 — последний день).
	DaysOfMonth []int `json:"days_of_month,omitempty" yaml:"days_of_month,omitempty"`

	// Weekend — для weekend: true — только выходные, false — только будни.
	Weekend bool `json:"weekend,omitempty" yaml:"weekend,omitempty"`

	// After / Before — для dateBetween (границы включительно).
	After  *time.Time `json:"after,omitempty" yaml:"after,omitempty"`
	Before *time.Time `json:"before,omitempty" yaml:"before,omitempty"`

	// Expression — для expression: expr над date (time.Time) и полями
	// year, month, day, weekday, hour, minute.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// TriggerKey — полный идентификатор trigger.
type TriggerKey struct {
	Flow      FlowKey `json:"flow"`
	TriggerID string  `json:"trigger_id"`
}

// String возвращает ключ в виде "tenant/namespace/flow/trigger".
func (k TriggerKey) String() string {
	return k.Flow.String() + "/" + k.TriggerID
}

// QueueKey — стабильный ключ для адресации в очереди.
func (k TriggerKey) QueueKey() string {
	return k.String()
}

// TriggerPhase — фаза trigger в цикле планировщика.
//
//	IDLE → EVALUATING → (IDLE | FIRED)
type TriggerPhase string

const (
	PhaseIdle       TriggerPhase = "IDLE"
	PhaseEvaluating TriggerPhase = "EVALUATING"
	PhaseFired      TriggerPhase = "FIRED"
)

// TriggerContext — персистентное состояние trigger.
//
// Меняется только планировщиком и результатом evaluator'а, никогда —
// самим выполняющимся flow.
type TriggerContext struct {
	Key TriggerKey `json:"key"`

	// Phase — фаза последнего цикла.
	Phase TriggerPhase `json:"phase"`

	// LastEvaluatedAt — время последнего вычисления (успешного или нет).
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`

	// NextEvaluationAt — не вычислять раньше этого момента.
	NextEvaluationAt *time.Time `json:"next_evaluation_at,omitempty"`

	// NextScheduleDate — следующая плановая дата (schedule trigger).
	NextScheduleDate *time.Time `json:"next_schedule_date,omitempty"`

	// LastFiredAt / LastExecutionID — последний созданный execution.
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`

	// LastSuccessAt — последнее успешное вычисление.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// ConsecutiveFailures — число ошибок вычисления подряд.
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`

	// Invalid — определение trigger некорректно. Trigger пропускается,
	// пока Fingerprint определения не изменится.
	Invalid       bool   `json:"invalid,omitempty"`
	InvalidReason string `json:"invalid_reason,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`

	// State — внутреннее состояние evaluator'а.
	State map[string]any `json:"state,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewTriggerContext создаёт пустой контекст для trigger.
func NewTriggerContext(key TriggerKey) *TriggerContext {
	return &TriggerContext{Key: key, Phase: PhaseIdle}
}

// IsDue проверяет, пора ли вычислять trigger.
func (c *TriggerContext) IsDue(now time.Time) bool {
	if c.NextEvaluationAt == nil {
		return true
	}
	return !now.Before(*c.NextEvaluationAt)
}

// QueueKey — стабильный ключ для адресации в очереди.
func (c *TriggerContext) QueueKey() string {
	return c.Key.String()
}
