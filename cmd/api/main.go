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

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/executives"
	"callbridge/internal/httpapi"
	"callbridge/internal/realtime"
	"callbridge/internal/reporting"
	"callbridge/internal/rtc"
	"callbridge/internal/wallet"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

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

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
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

	tokenBuilder, err := rtc.NewTokenBuilder(cfg.RTC.AppID, cfg.RTC.AppCertificate, cfg.RTC.TokenTTL)
	if err != nil {
		log.Error("rtc init failed", "err", err)
		os.Exit(1)
	}

	execRepo := executives.NewPostgresRepo(db)
	walletSvc := wallet.NewService(db)
	auditRec := audit.NewRecorder(audit.NewPostgresRepo(db), log)

	presence := realtime.NewTracker(execRepo, rdb, cfg.Call.PresenceTTL, log)
	hub := realtime.NewHub(presence, log)
	go hub.Run()
	defer hub.Stop()

	callSvc := calls.NewService(calls.ServiceConfig{
		Repo:            calls.NewPostgresRepo(db),
		Executives:      execRepo,
		Balances:        walletSvc,
		Tokens:          tokenBuilder,
		Notifier:        hub,
		BusyLock:        executives.NewRedisBusyLock(rdb, cfg.Call.RingTimeout*4),
		Audit:           auditRec,
		Logger:          log,
		RingWindow:      cfg.Call.RingTimeout,
		MinStartSeconds: int64(cfg.Call.MinStartSeconds),
	})
	defer callSvc.Close()

	handlers := httpapi.Handlers{
		Auth:       authManager,
		Calls:      callSvc,
		Wallet:     walletSvc,
		Executives: executives.NewService(execRepo),
		Reporting:  reporting.NewService(reporting.NewPostgresRepo(db), execRepo),
	}
	wsHandler := realtime.NewHandler(hub, authManager, callSvc, log)
	webhook := rtc.NewWebhookHandler(callSvc, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, handlers, wsHandler, webhook, authManager)

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
}
