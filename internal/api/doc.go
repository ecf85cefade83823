// Package api содержит HTTP API реплики scheduler'а.
//
// Структура:
//   - handler.go           — Handler и интерфейс Scheduler
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — logging (X-Request-ID), recovery
//   - response.go          — JSON-ответы и отображение ошибок в статусы
//   - dto.go               — запросы и ответы
//   - health.go            — /healthz
//   - flow_handler.go      — flows, контексты триггеров, concurrency, окна, ручной запуск
//   - execution_handler.go — executions: чтение, kill, переходы состояний
//
// /metrics отдаёт метрики Prometheus из реестра по умолчанию.
package api
