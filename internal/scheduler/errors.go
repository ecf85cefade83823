package scheduler

import "errors"

var (
	// ErrFatal — общее хранилище недоступно. Цикл останавливается целиком:
	// продолжать без координации значит рисковать дублями.
	ErrFatal = errors.New("scheduler cannot coordinate")

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrFlowNotFound — flow отсутствует в каталоге.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowDisabled — flow отключён.
	ErrFlowDisabled = errors.New("flow is disabled")
)
