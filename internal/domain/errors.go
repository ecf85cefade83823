package domain

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки доменной модели.
var (
	// ErrInvalidTransition — state machine отклонила переход.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnknownState — неизвестный тип состояния.
	ErrUnknownState = errors.New("unknown state type")

	// ErrInvalidDefinition — некорректное определение flow или trigger.
	ErrInvalidDefinition = errors.New("invalid definition")
)

// TransitionReason — причина отказа в переходе.
type TransitionReason string

const (
	// ReasonTerminal — execution уже в терминальном состоянии.
	ReasonTerminal TransitionReason = "already terminal"

	// ReasonClock — timestamp раньше последней записи истории.
	ReasonClock TransitionReason = "timestamp before last transition"

	// ReasonNotAllowed — переход не разрешён таблицей переходов.
	ReasonNotAllowed TransitionReason = "transition not allowed"

	// ReasonUnknownState — целевое состояние неизвестно.
	ReasonUnknownState TransitionReason = "unknown target state"
)

// InvalidTransitionError — ошибка отклонённого перехода.
//
// Исходное состояние при этом не меняется. Потребитель очереди должен
// подтвердить (ack) сообщение, а не повторять его бесконечно.
type InvalidTransitionError struct {
	ExecutionID string
	From        StateType
	To          StateType
	At          time.Time
	Reason      TransitionReason
}

// Error реализует интерфейс error.
func (e *InvalidTransitionError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("execution %s: %s → %s: %s", e.ExecutionID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s → %s: %s", e.From, e.To, e.Reason)
}

// Unwrap возвращает ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
