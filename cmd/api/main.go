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

	"outreach-platform/internal/auth"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/cadence"
	"outreach-platform/internal/channels"
	"outreach-platform/internal/config"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/ledger"
	"outreach-platform/internal/touch"
	"outreach-platform/pkg/logger"
	"outreach-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	touches := touch.NewRepo(db)
	ledgerSvc := ledger.NewService(ledger.NewRepo(db))
	billingSvc := billing.NewService(billing.NewRepo(db), ledger.NewRepo(db))
	engine := dispatch.NewEngine(touches, buildSenders(cfg), ledgerSvc, log)

	handlers := httpapi.Handlers{
		Auth:       authManager,
		Engine:     engine,
		Ledger:     ledgerSvc,
		Billing:    billingSvc,
		Strategies: cadence.NewStrategyCache(rdb, 0),
		Builder:    cadence.NewBuilder(),
		Touches:    touches,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
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
