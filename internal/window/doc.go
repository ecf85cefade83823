// Package window отслеживает окна composite-условий.
//
// Окно (domain.MultipleConditionWindow) открывается первым выполненным
// member-условием и срабатывает, когда внутри [start, deadline] выполнены
// все условия. Сработавшее окно удаляется; окно с истёкшим дедлайном
// отбрасывается без срабатывания.
package window
