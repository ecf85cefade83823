// Package cli реализует orbitctl, клиент HTTP API scheduler'а.
//
// CLI работает через HTTP и не импортирует внутренние пакеты: формы
// ответов продублированы в client.go.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows(ctx, "")
//
// Вывод: таблицы по умолчанию, JSON с флагом --json. Данные идут в
// stdout, сообщения в stderr, поэтому работает orbitctl flow list --json | jq.
//
// Команды:
//   - flow: list, show, trigger, concurrency
//   - execution: submit, show, kill, state
package cli
