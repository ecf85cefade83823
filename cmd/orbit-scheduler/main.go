// orbit-scheduler — реплика планировщика: тики триггеров, admission
// executions, HTTP API управления.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Orbit/internal/api"
	"github.com/shaiso/Orbit/internal/audit"
	"github.com/shaiso/Orbit/internal/catalog"
	"github.com/shaiso/Orbit/internal/config"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/scheduler"
	"github.com/shaiso/Orbit/internal/store"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "orbit-scheduler",
		Usage:   "Evaluate flow triggers and admit executions",
		Version: version,
		Flags:   config.Flags(),
		Action:  run,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("orbit-scheduler failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat).With("replica", cfg.ReplicaName)
	logger.Info("starting orbit-scheduler", "version", version, "remote_evaluation", cfg.RemoteEvaluation)

	tracer, shutdownTracing, err := telemetry.SetupTracing(ctx, "orbit-scheduler", cfg.TracingEnabled)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracer shutdown", "error", err)
		}
	}()

	st, err := store.Open(ctx, cfg.StoreURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	queue, err := mq.Open(ctx, cfg.QueueURL, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	cat, err := catalog.Open(ctx, cfg.CatalogURL, cfg.DefaultTenant, logger)
	if err != nil {
		return err
	}

	sink := audit.NewSink(queue, cfg.AuditBuffer, logger)

	sched := scheduler.New(scheduler.Config{
		Store:               st,
		Queue:               queue,
		Catalog:             cat,
		Audit:               sink,
		Logger:              logger,
		Tracer:              tracer,
		Owner:               cfg.ReplicaName,
		Tenant:              cfg.Tenant,
		TickInterval:        cfg.TickInterval,
		EvaluationTimeout:   cfg.EvaluationTimeout,
		Workers:             cfg.EvaluationWorkers,
		BatchSize:           cfg.BatchSize,
		LeaseTTL:            cfg.LeaseTTL,
		DefaultWindowSpan:   cfg.DefaultWindowSpan,
		DefaultPollInterval: cfg.DefaultPollInterval,
		FailureBackoff:      cfg.FailureBackoff,
		MaxFailureBackoff:   cfg.MaxFailureBackoff,
		Remote:              cfg.RemoteEvaluation,
		Retry:               cfg.Retry(),
	})

	handler := api.NewHandler(api.Config{
		Scheduler: sched,
		Catalog:   cat,
		Logger:    logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// audit-события дописываются после остановки scheduler'а
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	go sink.Run(auditCtx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Serve(gctx)
	})

	err = g.Wait()
	stopAudit()
	<-sink.Done()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
