// Package trigger вычисляет триггеры flow.
//
// Вычисление trigger — чистая функция от (определение, контекст, now):
// оно возвращает Outcome с необязательным execution-кандидатом и новым
// состоянием trigger, но само ничего не пишет. Решение, создавать ли
// execution, принимает scheduler.
//
// Поддерживаемые типы:
//   - schedule — cron или интервал, часовой пояс, условия на дату;
//   - polling  — expr-условие, проверяемое раз в интервал;
//   - flow     — реакция на завершение execution другого flow.
//
// Worker позволяет вычислять триггеры в отдельном процессе через очередь.
package trigger
