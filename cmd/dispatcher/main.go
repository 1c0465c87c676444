package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach-platform/internal/channels"
	"outreach-platform/internal/config"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/ledger"
	"outreach-platform/internal/telemetry"
	"outreach-platform/internal/touch"
	"outreach-platform/pkg/logger"
	"outreach-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// The dispatcher is the long-running dispatch loop: one engine pass per tick.
// It is safe to run any number of dispatcher processes against the same
// database; the queue's compare-and-swap claim keeps them from overlapping.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "dispatcher")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	usage := ledger.NewService(ledger.NewRepo(db))
	engine := dispatch.NewEngine(touch.NewRepo(db), buildSenders(cfg), usage, log)

	opts := dispatch.Options{
		DryRun:      cfg.Dispatch.DryRun,
		BatchSize:   cfg.Dispatch.BatchSize,
		Concurrency: cfg.Dispatch.Concurrency,
	}.Resolved()

	// Metrics side server.
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()

	log.Info("dispatcher started",
		"poll_interval", cfg.Dispatch.PollInterval,
		"batch", opts.BatchSize,
		"concurrency", opts.Concurrency,
		"dry_run", opts.DryRun,
	)

	ticker := time.NewTicker(cfg.Dispatch.PollInterval)
	defer ticker.Stop()

	for {
		sum, err := engine.Run(rootCtx, opts)
		if err != nil {
			log.Error("dispatch pass failed", "err", err)
		} else if sum.Claimed > 0 {
			log.Info("dispatch pass",
				"fetched", sum.Fetched,
				"claimed", sum.Claimed,
				"processed", sum.Processed,
				"failed", sum.Failed,
			)
		}

		select {
		case <-rootCtx.Done():
			log.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
		}
	}
}

// buildSenders maps every channel to the provider gateway, with the simulated
// sender filling the default slot when no gateway is configured.
func buildSenders(cfg config.Config) *dispatch.Registry {
	reg := dispatch.NewRegistry()
	if cfg.Provider.GatewayBaseURL == "" {
		return reg.RegisterDefault(channels.NewSimulatedSender())
	}
	gw := channels.NewGatewaySender(cfg.Provider)
	for _, ch := range []touch.Channel{touch.ChannelVoice, touch.ChannelWhatsapp, touch.ChannelSMS, touch.ChannelEmail} {
		reg.Register(ch, gw)
	}
	return reg.RegisterDefault(channels.NewSimulatedSender())
}
