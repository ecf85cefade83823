package config

import (
	"github.com/urfave/cli/v3"
)

// Flags возвращает флаги, общие для orbit-scheduler и orbit-evaluator.
// У каждого флага есть переменная окружения ORBIT_*.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "replica",
			Usage:   "Replica name (lease owner, created_by of executions)",
			Value:   d.ReplicaName,
			Sources: cli.EnvVars("ORBIT_REPLICA"),
		},
		&cli.StringFlag{
			Name:    "default-tenant",
			Usage:   "Tenant assigned to flows without one",
			Value:   d.DefaultTenant,
			Sources: cli.EnvVars("ORBIT_DEFAULT_TENANT"),
		},
		&cli.StringFlag{
			Name:    "tenant",
			Usage:   "Schedule only this tenant (empty: all tenants)",
			Sources: cli.EnvVars("ORBIT_TENANT"),
		},
		&cli.StringFlag{
			Name:    "store-url",
			Usage:   "Shared state store (postgres://, redis://, memory://)",
			Value:   d.StoreURL,
			Sources: cli.EnvVars("ORBIT_STORE_URL", "DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Message queue (amqp://, kafka://, memory://)",
			Value:   d.QueueURL,
			Sources: cli.EnvVars("ORBIT_QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "catalog-url",
			Usage:   "Flow catalog (file:///path, postgres://, memory://)",
			Value:   d.CatalogURL,
			Sources: cli.EnvVars("ORBIT_CATALOG_URL"),
		},
		&cli.DurationFlag{
			Name:    "tick-interval",
			Value:   d.TickInterval,
			Sources: cli.EnvVars("ORBIT_TICK_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "evaluation-timeout",
			Value:   d.EvaluationTimeout,
			Sources: cli.EnvVars("ORBIT_EVALUATION_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Concurrent trigger evaluations per replica",
			Value:   d.EvaluationWorkers,
			Sources: cli.EnvVars("ORBIT_WORKERS"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Max trigger evaluations per tick",
			Value:   d.BatchSize,
			Sources: cli.EnvVars("ORBIT_BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "lease-ttl",
			Value:   d.LeaseTTL,
			Sources: cli.EnvVars("ORBIT_LEASE_TTL"),
		},
		&cli.DurationFlag{
			Name:    "window-span",
			Usage:   "Default composite window span",
			Value:   d.DefaultWindowSpan,
			Sources: cli.EnvVars("ORBIT_WINDOW_SPAN"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Default polling trigger interval",
			Value:   d.DefaultPollInterval,
			Sources: cli.EnvVars("ORBIT_POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "failure-backoff",
			Value:   d.FailureBackoff,
			Sources: cli.EnvVars("ORBIT_FAILURE_BACKOFF"),
		},
		&cli.DurationFlag{
			Name:    "max-failure-backoff",
			Value:   d.MaxFailureBackoff,
			Sources: cli.EnvVars("ORBIT_MAX_FAILURE_BACKOFF"),
		},
		&cli.IntFlag{
			Name:    "conflict-retries",
			Usage:   "Retries of conditional writes on version conflict",
			Value:   int(d.ConflictRetries),
			Sources: cli.EnvVars("ORBIT_CONFLICT_RETRIES"),
		},
		&cli.BoolFlag{
			Name:    "remote-evaluation",
			Usage:   "Evaluate triggers in orbit-evaluator instead of in-process",
			Sources: cli.EnvVars("ORBIT_REMOTE_EVALUATION"),
		},
		&cli.IntFlag{
			Name:    "audit-buffer",
			Value:   d.AuditBuffer,
			Sources: cli.EnvVars("ORBIT_AUDIT_BUFFER"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   d.LogLevel,
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (json, text)",
			Value:   d.LogFormat,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "http-addr",
			Usage:   "Address of /healthz and /metrics",
			Value:   d.HTTPAddr,
			Sources: cli.EnvVars("ORBIT_HTTP_ADDR"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces via OTLP (OTEL_EXPORTER_OTLP_* variables)",
			Sources: cli.EnvVars("ORBIT_TRACING"),
		},
	}
}

// FromCommand собирает Config из флагов и проверяет его.
func FromCommand(cmd *cli.Command) (Config, error) {
	cfg := Config{
		ReplicaName:         cmd.String("replica"),
		DefaultTenant:       cmd.String("default-tenant"),
		Tenant:              cmd.String("tenant"),
		StoreURL:            cmd.String("store-url"),
		QueueURL:            cmd.String("queue-url"),
		CatalogURL:          cmd.String("catalog-url"),
		TickInterval:        cmd.Duration("tick-interval"),
		EvaluationTimeout:   cmd.Duration("evaluation-timeout"),
		EvaluationWorkers:   cmd.Int("workers"),
		BatchSize:           cmd.Int("batch-size"),
		LeaseTTL:            cmd.Duration("lease-ttl"),
		DefaultWindowSpan:   cmd.Duration("window-span"),
		DefaultPollInterval: cmd.Duration("poll-interval"),
		FailureBackoff:      cmd.Duration("failure-backoff"),
		MaxFailureBackoff:   cmd.Duration("max-failure-backoff"),
		RemoteEvaluation:    cmd.Bool("remote-evaluation"),
		AuditBuffer:         cmd.Int("audit-buffer"),
		LogLevel:            cmd.String("log-level"),
		LogFormat:           cmd.String("log-format"),
		HTTPAddr:            cmd.String("http-addr"),
		TracingEnabled:      cmd.Bool("tracing"),
	}
	if n := cmd.Int("conflict-retries"); n > 0 {
		cfg.ConflictRetries = uint64(n)
	}
	return cfg, cfg.Validate()
}
