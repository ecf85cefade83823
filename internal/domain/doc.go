// Package domain содержит модель данных подсистемы планирования.
//
// Структура:
//   - status.go      — StateType, категории и таблица переходов
//   - state.go       — State (история переходов, Apply, Duration)
//   - execution.go   — Execution, ExecutionTrigger, TaskRun
//   - flow.go        — FlowKey, FlowDescriptor, CompositeDef, ConcurrencyDef
//   - trigger.go     — TriggerDef, ScheduleCondition, TriggerContext
//   - concurrency.go — OverflowPolicy, ConcurrencyLimit
//   - window.go      — MultipleConditionWindow, FireEvent
//
// Пакет не выполняет I/O: только данные и правила.
package domain
