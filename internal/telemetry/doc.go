// Package telemetry — логирование, метрики и трассировка Orbit.
//
// slog настраивается один раз в main (SetupLogger) и дальше передаётся
// через Config компонентов или context (WithLogger/FromContext).
// Метрики регистрируются в default registry Prometheus и отдаются
// promhttp на /metrics каждого бинарника. Трассировка OpenTelemetry
// включается флагом --tracing, иначе используется noop tracer.
package telemetry
