package trigger

import (
	"errors"
	"fmt"

	"github.com/shaiso/Orbit/internal/domain"
)

var (
	// ErrInvalidTrigger — определение trigger некорректно (ошибка конфигурации).
	// Такой trigger пропускается, пока определение не изменится.
	ErrInvalidTrigger = errors.New("invalid trigger definition")

	// ErrTimeout — вычисление не уложилось в таймаут.
	ErrTimeout = errors.New("evaluation timed out")

	// ErrNotPolled — trigger этого типа не вычисляется по тикам.
	ErrNotPolled = errors.New("trigger is not evaluated on ticks")
)

// EvaluationError — неудачное вычисление trigger.
//
// Это не ошибка flow и не ошибка цикла scheduler'а: она записывается
// в контекст trigger, а цикл продолжает работу.
type EvaluationError struct {
	Key     domain.TriggerKey
	Err     error
	Timeout bool
	Invalid bool
}

func (e *EvaluationError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("trigger %s: evaluation timed out: %v", e.Key, e.Err)
	case e.Invalid:
		return fmt.Sprintf("trigger %s: invalid definition: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("trigger %s: evaluation failed: %v", e.Key, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
