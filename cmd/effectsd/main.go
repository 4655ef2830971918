// effectsd drains the durable effect queue and replays any spooled
// audit events. It runs alongside the API server and can be scaled out:
// workers claim effects with row locks and consumers are idempotent.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	auditstore "github.com/moneyflow/engine/internal/audit"
	"github.com/moneyflow/engine/internal/config"
	"github.com/moneyflow/engine/internal/effects"
	"github.com/moneyflow/engine/internal/ledger"
)

const spoolReplayInterval = time.Minute

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

	spool, err := auditstore.OpenSpool(cfg.AuditSpoolPath)
	if err != nil {
		logger.Error("failed to open audit spool", "error", err)
		os.Exit(1)
	}
	defer spool.Close()

	recorder := auditstore.NewRecorder(pool, spool, logger)
	store := ledger.NewStore(pool)

	worker := effects.NewWorker(pool, logger, recorder)
	worker.Register(effects.TypeCommissionCredit, effects.CommissionHandler(store, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go replaySpool(ctx, recorder, logger)

	logger.Info("effectsd running", "env", cfg.Environment)
	worker.Run(ctx)
	logger.Info("effectsd stopped")
}

func replaySpool(ctx context.Context, recorder *auditstore.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(spoolReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := recorder.ReplaySpool(ctx)
			if err != nil {
				logger.Warn("spool replay incomplete", "replayed", n, "error", err)
				continue
			}
			if n > 0 {
				logger.Info("replayed spooled audit events", "count", n)
			}
		}
	}
}
