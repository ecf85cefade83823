package domain

import "fmt"

// StateType — тип состояния execution.
//
// Типы разбиты на три категории:
//
//	initial:  CREATED
//	running:  QUEUED, RUNNING, PAUSED, RETRYING, KILLING
//	terminal: SUCCESS, WARNING, FAILED, KILLED, CANCELLED, SKIPPED
//
// Жизненный цикл (основные переходы):
//
//	CREATED → RUNNING → SUCCESS | WARNING | FAILED
//	        ↘ QUEUED → RUNNING   (ждёт слот concurrency)
//	        ↘ CANCELLED | FAILED (overflow policy)
//	RUNNING ↔ PAUSED, RUNNING ↔ RETRYING
//	любой не-терминальный → KILLING → KILLED
type StateType string

const (
	// StateCreated — execution создан, ещё не запущен.
	StateCreated StateType = "CREATED"

	// StateQueued — execution ждёт освобождения слота concurrency.
	StateQueued StateType = "QUEUED"

	// StateRunning — execution выполняется воркером.
	StateRunning StateType = "RUNNING"

	// StatePaused — выполнение приостановлено.
	StatePaused StateType = "PAUSED"

	// StateRetrying — execution перезапускается после ошибки.
	StateRetrying StateType = "RETRYING"

	// StateKilling — запрошена остановка, воркер ещё не подтвердил.
	StateKilling StateType = "KILLING"

	// StateSuccess — execution успешно завершён.
	StateSuccess StateType = "SUCCESS"

	// StateWarning — execution завершён с предупреждениями.
	StateWarning StateType = "WARNING"

	// StateFailed — execution завершился с ошибкой.
	StateFailed StateType = "FAILED"

	// StateKilled — execution остановлен по запросу.
	StateKilled StateType = "KILLED"

	// StateCancelled — execution отменён (например, overflow policy CANCEL).
	StateCancelled StateType = "CANCELLED"

	// StateSkipped — execution пропущен.
	StateSkipped StateType = "SKIPPED"
)

// allStates — полный список известных типов, в порядке объявления.
var allStates = []StateType{
	StateCreated,
	StateQueued, StateRunning, StatePaused, StateRetrying, StateKilling,
	StateSuccess, StateWarning, StateFailed, StateKilled, StateCancelled, StateSkipped,
}

// transitions — допустимые переходы между состояниями.
// Терминальные состояния не имеют исходящих переходов.
var transitions = map[StateType][]StateType{
	StateCreated: {
		StateQueued, StateRunning, StateKilling, StateKilled,
		StateCancelled, StateFailed, StateSkipped,
	},
	StateQueued: {
		StateRunning, StateKilling, StateKilled, StateCancelled, StateFailed,
	},
	StateRunning: {
		StatePaused, StateRetrying, StateKilling,
		StateSuccess, StateWarning, StateFailed, StateKilled, StateCancelled,
	},
	StatePaused: {
		StateRunning, StateKilling, StateKilled, StateCancelled, StateFailed,
	},
	StateRetrying: {
		StateRunning, StateKilling, StateKilled, StateFailed,
	},
	StateKilling: {
		StateKilled,
	},
}

// IsTerminal возвращает true, если состояние финальное (execution закрыт).
func (s StateType) IsTerminal() bool {
	switch s {
	case StateSuccess, StateWarning, StateFailed, StateKilled, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// IsCreated возвращает true для начального состояния.
func (s StateType) IsCreated() bool {
	return s == StateCreated
}

// IsRunning возвращает true для не-терминальных состояний после CREATED.
func (s StateType) IsRunning() bool {
	switch s {
	case StateQueued, StateRunning, StatePaused, StateRetrying, StateKilling:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что тип известен.
func (s StateType) IsValid() bool {
	for _, st := range allStates {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransitionTo проверяет, разрешён ли переход s → target.
func (s StateType) CanTransitionTo(target StateType) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// String возвращает строковое представление StateType.
func (s StateType) String() string {
	return string(s)
}

// ParseStateType парсит строку в StateType.
func ParseStateType(s string) (StateType, error) {
	st := StateType(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
	return st, nil
}

// TerminalStates возвращает все терминальные типы.
func TerminalStates() []StateType {
	var out []StateType
	for _, st := range allStates {
		if st.IsTerminal() {
			out = append(out, st)
		}
	}
	return out
}
