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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/moneyflow/engine/internal/agent"
	"github.com/moneyflow/engine/internal/api"
	auditstore "github.com/moneyflow/engine/internal/audit"
	"github.com/moneyflow/engine/internal/config"
	"github.com/moneyflow/engine/internal/effects"
	"github.com/moneyflow/engine/internal/fees"
	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/internal/transfer"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	spool, err := auditstore.OpenSpool(cfg.AuditSpoolPath)
	if err != nil {
		logger.Error("failed to open audit spool", "error", err)
		os.Exit(1)
	}
	defer spool.Close()

	recorder := auditstore.NewRecorder(pool, spool, logger)
	store := ledger.NewStore(pool)
	queue := effects.NewQueue(pool)
	guard := security.NewGuard(recorder)
	limiter := &security.RedisRateLimiter{Redis: redisClient, Prefix: "engine"}

	transfers := transfer.NewOrchestrator(
		store, store, fees.NewCalculator(), guard, limiter, queue, recorder, logger,
		transfer.Config{TreasuryAccountID: cfg.TreasuryAccountID},
	)
	agents := agent.NewOrchestrator(store, store, guard, limiter, queue, recorder, logger, agent.Config{})

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Transfers:    transfers,
		Agents:       agents,
		Accounts:     store,
		Recorder:     recorder,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("moneyflow engine listening", "addr", cfg.ListenAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
