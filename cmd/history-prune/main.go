// Command history-prune deletes chat history older than the retention
// window. It is meant to be run from cron when the bot's own scheduled
// prune is disabled.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/mediabot/internal/config"
	"github.com/stupiduntilnot/mediabot/internal/db"
	"github.com/stupiduntilnot/mediabot/internal/history"
	"github.com/stupiduntilnot/mediabot/internal/logging"
)

func main() {
	logger, err := logging.New(logging.Options{Level: "info", Format: os.Getenv("LOG_FORMAT")})
	if err != nil {
		log.Fatalf("[history-prune] %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadPruneConfig()
	n, err := prune(ctx, cfg)
	if err != nil {
		logger.Fatal("prune failed", zap.Error(err))
	}
	logger.Info("history pruned", zap.Int64("deleted", n), zap.Int("retention_days", cfg.RetentionDays))
}

func prune(ctx context.Context, cfg config.PruneConfig) (int64, error) {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return 0, err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return 0, fmt.Errorf("failed to init schema: %w", err)
	}

	store := db.NewStore(database)
	n, err := history.NewManager(store, 1).PruneOlderThan(ctx, cfg.RetentionDays)
	if err != nil {
		return 0, err
	}
	if _, err := store.LogEvent(ctx, nil, 0, db.EventHistoryPruned, map[string]any{
		"deleted":        n,
		"retention_days": cfg.RetentionDays,
		"source":         "history-prune",
	}); err != nil {
		return n, fmt.Errorf("log prune event: %w", err)
	}
	return n, nil
}
