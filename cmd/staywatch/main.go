package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mkrell/staywatch/internal/config"
	"github.com/mkrell/staywatch/internal/countdown"
	"github.com/mkrell/staywatch/internal/engine"
	"github.com/mkrell/staywatch/internal/logger"
	"github.com/mkrell/staywatch/internal/models"
	"github.com/mkrell/staywatch/internal/reconcile"
	"github.com/mkrell/staywatch/internal/storage"
	"github.com/mkrell/staywatch/internal/telegram"
	"github.com/mkrell/staywatch/internal/watch"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(
		cfg.Storage.MaxSnapshotsPerStay,
		cfg.Storage.DBPath,
	)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var calculator engine.Calculator
	if cfg.Reconcile.Enabled {
		calculator = reconcile.NewClient(
			cfg.Reconcile.APIBaseURL,
			cfg.Reconcile.Timeout,
			reconcile.ClientConfig{
				MaxRetries:          cfg.Reconcile.MaxRetries,
				RetryDelayBase:      cfg.Reconcile.RetryDelayBase,
				MaxIdleConns:        cfg.Reconcile.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.Reconcile.MaxIdleConnsPerHost,
				IdleConnTimeout:     cfg.Reconcile.IdleConnTimeout,
			},
		)
		logger.Info("Price reconciliation enabled (endpoint: %s)", cfg.Reconcile.APIBaseURL)
	} else {
		logger.Debug("Price reconciliation disabled; pricing is local-only")
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	low, medium, high, critical := cfg.Cadence()
	var notifier watch.Notifier
	if telegramClient != nil {
		notifier = telegramClient
	}
	watcher := watch.New(watch.Config{
		Store:      store,
		Notifier:   notifier,
		Calculator: calculator,
		Cadence: countdown.Cadence{
			Low:      low,
			Medium:   medium,
			High:     high,
			Critical: critical,
		},
		Tolerance:    cfg.Engine.Tolerance,
		ForecastDays: cfg.Engine.ForecastDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		watcher.Shutdown()
		cancel()
	}()

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.ListenForCommands(ctx, watcher)
	}

	logger.Info("Starting stay watcher (%d stays, forecast: %d days, tolerance: %.1f)",
		len(cfg.Stays),
		cfg.Engine.ForecastDays,
		cfg.Engine.Tolerance,
	)

	for _, sc := range cfg.Stays {
		stay, err := stayFromConfig(sc, cfg.Engine.MarketDemandMultiplier)
		if err != nil {
			logger.Fatal("Invalid stay %s: %v", sc.Name, err)
		}
		if err := watcher.AddStay(stay); err != nil {
			logger.Fatal("Failed to add stay %s: %v", sc.Name, err)
		}
		logger.Info("Watching stay %s (check-in %s, base price %.0f)",
			stay.Name, stay.TargetDate.Format(time.RFC3339), stay.BasePrice)
	}

	ticker := time.NewTicker(cfg.Storage.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Running housekeeping")
			if err := store.RotateSnapshots(); err != nil {
				logger.Warn("Failed to rotate snapshots: %v", err)
			}
		}
	}
}

// stayFromConfig builds the domain stay from its config entry. A stay-level
// demand multiplier overrides the engine-wide default.
func stayFromConfig(sc config.StayConfig, defaultDemand float64) (*models.Stay, error) {
	target, err := sc.Target()
	if err != nil {
		return nil, err
	}
	demand := sc.MarketDemandMultiplier
	if demand == 0 {
		demand = defaultDemand
	}
	now := time.Now()
	return &models.Stay{
		ID:                     uuid.New().String(),
		Name:                   sc.Name,
		TargetDate:             target,
		BasePrice:              sc.BasePrice,
		MarketDemandMultiplier: demand,
		CreatedAt:              now,
		LastUpdated:            now,
	}, nil
}
