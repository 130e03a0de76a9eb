package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Zecruu/SpineLineDemo/internal/api"
	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/config"
	"github.com/Zecruu/SpineLineDemo/internal/db"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/internal/metrics"
	"github.com/Zecruu/SpineLineDemo/internal/patient"
	redisclient "github.com/Zecruu/SpineLineDemo/internal/redis"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	if !cfg.AuthConfigured() {
		logger.Error("no token verification configured: set AUTH_JWT_SECRET, AUTH_JWKS_URL or FIREBASE_PROJECT_ID")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis", "addr", cfg.RedisAddr)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedMetrics := metrics.NewSchedulingMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	pgAudit := audit.NewPgSink(pgPool)
	sink := audit.Sink(pgAudit)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.AuditTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("error closing kafka writer", "error", err)
			}
		}()
		sink = audit.Fanout{pgAudit, kafkaSink}
		logger.Info("audit events mirrored to kafka", "topic", cfg.Kafka.AuditTopic)
	}

	verifier, err := identity.NewVerifier(identity.VerifierConfig{
		Secret:   cfg.Auth.JWTSecret,
		JWKSURL:  cfg.Auth.JWKSURL,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		logger.Error("token verifier error", "error", err)
		os.Exit(1)
	}
	users := identity.NewPgDirectory(pgPool)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewProviderLocker(rdb, cfg.LockTTL, redisclient.WithWait(2*time.Second, 50*time.Millisecond)),
		sink,
		cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(schedMetrics),
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments: svc,
		Patients:     patient.NewPgStore(pgPool),
		Users:        users,
		AuditLog:     pgAudit,
		AuditSink:    sink,
		Auth:         api.NewAuthenticator(verifier, users, sink, logger),
		Health: api.NewHealthHandler(
			api.PingFunc(pgPool.Ping),
			api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			cfg.Env, version,
		),
		Logger:      logger,
		HTTPMetrics: httpMetrics,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("api-server stopped")
}
