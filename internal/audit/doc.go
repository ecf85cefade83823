// Package audit публикует события аудита (переходы executions,
// срабатывания и пропуски триггеров) в очередь.
//
// Отправка fire-and-forget: сбой или медленная очередь не должны
// задерживать планирование.
package audit
