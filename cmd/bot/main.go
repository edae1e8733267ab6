package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/config"
	"github.com/stupiduntilnot/mediabot/internal/control"
	"github.com/stupiduntilnot/mediabot/internal/conversation"
	"github.com/stupiduntilnot/mediabot/internal/db"
	"github.com/stupiduntilnot/mediabot/internal/dummy"
	"github.com/stupiduntilnot/mediabot/internal/history"
	"github.com/stupiduntilnot/mediabot/internal/logging"
	"github.com/stupiduntilnot/mediabot/internal/model"
	"github.com/stupiduntilnot/mediabot/internal/pollinations"
	"github.com/stupiduntilnot/mediabot/internal/telegram"
)

func main() {
	cfg, err := config.LoadBotConfig()
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func run(ctx context.Context, cfg config.BotConfig, logger *zap.Logger) error {
	instanceID := uuid.NewString()
	logger = logger.With(zap.String("instance_id", instanceID))

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	store := db.NewStore(database)
	hist := history.NewManager(store, cfg.HistoryFetchLimit)

	commander, err := newCommander(cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	gen, err := newGenerator(cfg, hist, logger)
	if err != nil {
		return fmt.Errorf("failed to init generator: %w", err)
	}

	policy := control.Policy{
		CallTimeout: time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		PollTimeout: time.Duration(cfg.Timeout) * time.Second,
		MaxBackoff:  control.DefaultPolicy().MaxBackoff,
	}
	flow := conversation.NewFlow(store, hist, gen, conversation.Options{
		Policy:       policy,
		DefaultVoice: cfg.DefaultVoice,
		Logger:       logger,
	})
	circuit := control.NewCircuitBreaker(cfg.CircuitThreshold, time.Duration(cfg.CircuitCooldownSecond)*time.Second)

	b := newBot(botOptions{
		PollTimeout:   cfg.Timeout,
		IdleSleep:     time.Duration(cfg.SleepSeconds) * time.Second,
		DropPending:   cfg.DropPending,
		QueueSize:     cfg.UserQueueSize,
		WorkerIdle:    time.Duration(cfg.WorkerIdleSeconds) * time.Second,
		RetentionDays: cfg.HistoryRetentionDays,
		PruneInterval: time.Duration(cfg.PruneIntervalHours) * time.Hour,
	}, store, hist, flow, commander, circuit, policy, logger)

	rootID, err := store.LogEvent(ctx, nil, 0, db.EventProcessStarted, map[string]any{
		"role":        "bot",
		"pid":         os.Getpid(),
		"instance_id": instanceID,
		"commander":   cfg.Commander,
		"generator":   cfg.Generator,
	})
	if err != nil {
		logger.Warn("failed to log process.started", zap.Error(err))
	} else {
		b.rootID = &rootID
	}

	logger.Info("bot started",
		zap.String("commander", cfg.Commander),
		zap.String("generator", cfg.Generator),
		zap.String("db", cfg.DBPath),
	)
	return b.run(ctx)
}

func newCommander(cfg config.BotConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	case "telegram":
		// The HTTP timeout must outlast the long poll.
		return telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramFileBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newGenerator(cfg config.BotConfig, hist *history.Manager, logger *zap.Logger) (model.Generator, error) {
	switch cfg.Generator {
	case "dummy":
		return dummy.NewGenerator(cfg.DummyGeneratorScript)
	case "pollinations":
		return pollinations.NewClient(pollinations.Config{
			TextModelsURL:      cfg.TextModelsURL,
			ImageModelsURL:     cfg.ImageModelsURL,
			OpenAIBaseURL:      cfg.OpenAIBaseURL,
			APIKey:             cfg.OpenAIAPIKey,
			ImageGenerationURL: cfg.ImageGenerationURL,
			AudioModel:         cfg.AudioModelName,
			HistoryMaxTokens:   cfg.HistoryMaxTokens,
			Timeout:            time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		}, hist, logger), nil
	default:
		return nil, fmt.Errorf("unsupported generator: %s", cfg.Generator)
	}
}
