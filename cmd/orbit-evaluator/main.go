// orbit-evaluator — удалённый вычислитель триггеров. Получает запросы из
// очереди, вычисляет триггер и публикует результат. Состояния не хранит,
// реплик может быть сколько угодно.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Orbit/internal/config"
	"github.com/shaiso/Orbit/internal/mq"
	"github.com/shaiso/Orbit/internal/telemetry"
	"github.com/shaiso/Orbit/internal/trigger"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "orbit-evaluator",
		Usage:   "Evaluate triggers on behalf of scheduler replicas",
		Version: version,
		Flags:   config.Flags(),
		Action:  run,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("orbit-evaluator failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat).With("replica", cfg.ReplicaName)
	logger.Info("starting orbit-evaluator", "version", version)

	tracer, shutdownTracing, err := telemetry.SetupTracing(ctx, "orbit-evaluator", cfg.TracingEnabled)
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

	queue, err := mq.Open(ctx, cfg.QueueURL, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	worker := trigger.NewWorker(trigger.WorkerConfig{
		Queue:          queue,
		Evaluators:     trigger.NewEvaluators(cfg.DefaultPollInterval),
		Logger:         logger,
		Tracer:         tracer,
		Name:           cfg.ReplicaName,
		DefaultTimeout: cfg.EvaluationTimeout,
	})

	// /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
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
		return worker.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
