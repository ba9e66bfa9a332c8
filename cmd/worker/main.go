package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outreachpass/passhub/internal/config"
	"github.com/outreachpass/passhub/internal/db"
	"github.com/outreachpass/passhub/internal/issuance"
	"github.com/outreachpass/passhub/internal/issuance/qr"
	"github.com/outreachpass/passhub/internal/issuance/wallet"
	"github.com/outreachpass/passhub/internal/notifications"
	"github.com/outreachpass/passhub/internal/observability"
	"github.com/outreachpass/passhub/internal/passes"
	"github.com/outreachpass/passhub/internal/queue/redisclient"
	"github.com/outreachpass/passhub/internal/queue/worker"
	"github.com/outreachpass/passhub/internal/repo/postgres"
	"github.com/outreachpass/passhub/internal/tenantcfg"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "passhub-worker", cfg.OTLPEndpoint)

	if err != nil {
		log.Warn("tracer init failed, continuing without traces", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	attendeesRepo := postgres.NewAttendeesRepo(pool, prom)
	cardsRepo := postgres.NewCardsRepo(pool, prom)

	// per-tenant wallet flags, env values as the fallback
	var defaults []passes.Platform

	if cfg.AppleWalletEnabled {
		defaults = append(defaults, passes.PlatformApple)
	}

	if cfg.GoogleWalletEnabled {
		defaults = append(defaults, passes.PlatformGoogle)
	}

	rdb := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	flags := tenantcfg.NewResolver(rdb.Raw(), defaults, log)

	notifier := notifications.NewProtectedNotifier(
		notifications.NewLogNotifier(),
		notifications.ProtectedNotifierConfig{},
	)

	pipeline := issuance.New(
		attendeesRepo,
		cardsRepo,
		qr.NewLinkGenerator(cfg.CardBaseURL),
		wallet.NewStubBuilder(cfg.CardBaseURL),
		notifier,
		flags,
		log,
	)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		WorkerID:      workerID,
		BatchSize:     cfg.BatchSize,
		Concurrency:   cfg.Concurrency,
		PollInterval:  cfg.PollInterval,
		LockTTL:       cfg.LockTTL,
		ShutdownGrace: cfg.ShutdownGrace,
	}, jobsRepo, pipeline, log, prom)

	// health + metrics sidecar server
	mux := http.NewServeMux()
	mux.Handle("/", w.HealthHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if herr := healthSrv.ListenAndServe(); herr != nil && herr != http.ErrServerClosed {
			log.Error("health server failed", "err", herr)
		}
	}()

	log.Info("worker starting",
		"worker_id", workerID,
		"batch_size", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
		"poll_interval", cfg.PollInterval.String(),
	)

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error("worker stopped with error", "err", err)
	}

	sctx, cancel := config.WithTimeout(cfg.ShutdownGrace)
	defer cancel()

	_ = healthSrv.Shutdown(sctx)

	if err := shutdownTracer(sctx); err != nil {
		log.Error("tracer shutdown failed", "err", err)
	}

	log.Info("worker shutdown complete")
}
