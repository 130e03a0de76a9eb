package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/config"
	"github.com/Zecruu/SpineLineDemo/internal/db"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "noshow-worker")
	if err := cfg.RequireSystemActor(); err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}
	logger.Info("noshow-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "grace", cfg.NoShowGrace, "system_actor", cfg.SystemActorID)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	sink := audit.Sink(audit.NewPgSink(pgPool))
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.AuditTopic)
		defer kafkaSink.Close()
		sink = audit.Fanout{sink, kafkaSink}
	}

	// Status changes are guarded by the row version, so no provider lock is taken here.
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), nil, sink, cfg, appointment.WithLogger(logger))

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping noshow-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.SweepNoShows(runCtx)
	if err != nil {
		logger.Error("no-show sweep error", "marked", marked, "error", err)
		return
	}
	logger.Info("no-show sweep complete", "marked", marked, "duration", time.Since(start))
}
