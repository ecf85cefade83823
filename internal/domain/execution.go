package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Execution — один запуск flow.
//
// Execution создаётся когда:
//   - срабатывает schedule trigger (по cron или интервалу)
//   - polling trigger находит условие выполненным
//   - composite trigger собрал все условия в своём окне
//   - пользователь запускает flow вручную
//
// От создания до терминального состояния execution принадлежит подсистеме
// планирования. После терминального состояния меняются только Metadata.
type Execution struct {
	// ID — уникальный идентификатор execution.
	ID string `json:"id"`

	// Tenant, Namespace, FlowID — идентификация flow.
	Tenant    string `json:"tenant"`
	Namespace string `json:"namespace"`
	FlowID    string `json:"flow_id"`

	// FlowRevision — ревизия flow на момент создания.
	FlowRevision int `json:"flow_revision,omitempty"`

	// State — текущее состояние и история переходов.
	State State `json:"state"`

	// Trigger — что породило execution.
	Trigger ExecutionTrigger `json:"trigger"`

	// Inputs — входные параметры запуска.
	Inputs map[string]any `json:"inputs,omitempty"`

	// TaskRuns — записи о выполнении задач (заполняются воркерами).
	TaskRuns []TaskRun `json:"task_runs,omitempty"`

	// Labels — произвольные метки.
	Labels map[string]string `json:"labels,omitempty"`

	// Metadata — аудиторские данные, изменяемые и после завершения.
	Metadata ExecutionMetadata `json:"metadata"`

	// CreatedAt — время создания execution.
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionTrigger — контекст, породивший execution.
type ExecutionTrigger struct {
	// Type — тип источника: manual, schedule, polling, flow, composite.
	Type TriggerType `json:"type"`

	// TriggerID — ID trigger в flow (пусто для manual).
	TriggerID string `json:"trigger_id,omitempty"`

	// Date — плановая дата для schedule trigger.
	Date *time.Time `json:"date,omitempty"`

	// Variables — переменные, вычисленные evaluator'ом.
	Variables map[string]any `json:"variables,omitempty"`

	// Members — timestamps выполнения условий для composite trigger.
	Members map[string]time.Time `json:"members,omitempty"`
}

// ExecutionMetadata — аудиторские данные execution.
type ExecutionMetadata struct {
	// Attempt — номер попытки (увеличивается при RETRYING).
	Attempt int `json:"attempt"`

	// CreatedBy — кто создал: scheduler replica или пользователь.
	CreatedBy string `json:"created_by,omitempty"`

	// OverflowDecision — решение concurrency limiter при создании.
	OverflowDecision string `json:"overflow_decision,omitempty"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskRun — запись о выполнении одной задачи внутри execution.
type TaskRun struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	State  State  `json:"state"`
}

// NewExecution создаёт execution в состоянии CREATED.
func NewExecution(flow FlowKey, trigger ExecutionTrigger, at time.Time) *Execution {
	return &Execution{
		ID:        uuid.NewString(),
		Tenant:    flow.Tenant,
		Namespace: flow.Namespace,
		FlowID:    flow.FlowID,
		State:     NewState(at),
		Trigger:   trigger,
		Metadata:  ExecutionMetadata{Attempt: 1, UpdatedAt: at},
		CreatedAt: at,
	}
}

// FlowKey возвращает ключ flow, которому принадлежит execution.
func (e *Execution) FlowKey() FlowKey {
	return FlowKey{Tenant: e.Tenant, Namespace: e.Namespace, FlowID: e.FlowID}
}

// QueueKey — стабильный ключ для адресации в очереди.
func (e *Execution) QueueKey() string {
	return e.ID
}

// IsFinished возвращает true, если execution завершён (в любом статусе).
func (e *Execution) IsFinished() bool {
	return e.State.IsTerminal()
}

// Duration возвращает продолжительность execution (только для завершённых).
func (e *Execution) Duration() (time.Duration, bool) {
	return e.State.Duration()
}

// Transition применяет переход и возвращает новую копию execution.
// Исходный execution не изменяется ни при успехе, ни при ошибке.
func (e *Execution) Transition(target StateType, at time.Time) (*Execution, error) {
	next, err := e.State.Apply(target, at)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			invalid.ExecutionID = e.ID
		}
		return nil, err
	}

	out := e.Clone()
	out.State = next
	out.Metadata.UpdatedAt = at
	if target == StateRetrying {
		out.Metadata.Attempt++
	}
	return out, nil
}

// Clone возвращает копию execution с независимой историей.
func (e *Execution) Clone() *Execution {
	out := *e
	out.State = e.State.Clone()
	if e.TaskRuns != nil {
		out.TaskRuns = make([]TaskRun, len(e.TaskRuns))
		for i, tr := range e.TaskRuns {
			tr.State = tr.State.Clone()
			out.TaskRuns[i] = tr
		}
	}
	return &out
}
