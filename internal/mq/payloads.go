package mq

import (
	"time"

	"github.com/shaiso/Orbit/internal/domain"
)

// ExecutionCreated — новый execution принят (в т.ч. QUEUED или терминальный по политике).
type ExecutionCreated struct {
	Execution *domain.Execution `json:"execution"`
}

func (p ExecutionCreated) QueueKey() string {
	if p.Execution == nil {
		return ""
	}
	return p.Execution.ID
}

// ExecutionStateChanged — принятый переход состояния.
type ExecutionStateChanged struct {
	ExecutionID string           `json:"execution_id"`
	Flow        domain.FlowKey   `json:"flow"`
	From        domain.StateType `json:"from"`
	To          domain.StateType `json:"to"`
	At          time.Time        `json:"at"`

	// Execution — снимок после перехода.
	Execution *domain.Execution `json:"execution,omitempty"`
}

func (p ExecutionStateChanged) QueueKey() string { return p.ExecutionID }

// TransitionRequest — запрос на переход состояния (от воркера или Kill).
type TransitionRequest struct {
	ExecutionID string           `json:"execution_id"`
	State       domain.StateType `json:"state"`
	At          time.Time        `json:"at"`
	Reason      string           `json:"reason,omitempty"`
}

func (p TransitionRequest) QueueKey() string { return p.ExecutionID }

// TriggerEvaluationRequested — запрос удалённой оценки триггера.
type TriggerEvaluationRequested struct {
	Key         domain.TriggerKey     `json:"key"`
	Flow        domain.FlowDescriptor `json:"flow"`
	Trigger     domain.TriggerDef     `json:"trigger"`
	Context     domain.TriggerContext `json:"context"`
	RequestedAt time.Time             `json:"requested_at"`
	Deadline    time.Time             `json:"deadline"`

	// RequestedBy — реплика, удерживающая lease trigger'а.
	RequestedBy string `json:"requested_by"`
}

func (p TriggerEvaluationRequested) QueueKey() string { return p.Key.QueueKey() }

// TriggerEvaluationResult — результат оценки триггера.
type TriggerEvaluationResult struct {
	Key         domain.TriggerKey `json:"key"`
	EvaluatedAt time.Time         `json:"evaluated_at"`

	// Candidate — execution-кандидат; nil, если создавать нечего.
	Candidate *domain.Execution `json:"candidate,omitempty"`

	// State — обновлённое внутреннее состояние триггера.
	State map[string]any `json:"state,omitempty"`

	NextEvaluationAt *time.Time `json:"next_evaluation_at,omitempty"`
	NextScheduleDate *time.Time `json:"next_schedule_date,omitempty"`

	// Error — текст ошибки оценки; пустой при успехе.
	Error   string `json:"error,omitempty"`
	Timeout bool   `json:"timeout,omitempty"`
	Invalid bool   `json:"invalid,omitempty"`

	// RequestedBy копируется из запроса.
	RequestedBy string `json:"requested_by,omitempty"`
}

func (p TriggerEvaluationResult) QueueKey() string { return p.Key.QueueKey() }

// LogRecord — строка лога, отправляемая в TopicTelemetry.
type LogRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (LogRecord) TelemetryRecord() {}

// MetricSample — одно значение метрики.
type MetricSample struct {
	Time   time.Time         `json:"time"`
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (MetricSample) TelemetryRecord() {}
