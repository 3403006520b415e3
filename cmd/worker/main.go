// Package main provides the referral settlement worker entry point.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonft-app/backend/internal/adapter"
	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/storage"
	"github.com/tonft-app/backend/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("Settlement worker starting")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	toncenter, err := adapter.NewToncenterClient(&cfg.Toncenter)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create toncenter client")
	}

	settlement, err := worker.NewSettlementWorker(&worker.SettlementWorkerConfig{
		Bonuses:       storage.NewBonusRepository(postgres),
		Canonicalizer: adapter.NewCachedCanonicalizer(toncenter, storage.NewAddressCache(redisCache, cfg.Cache.AddressTTL)),
		Disburser:     adapter.NewDisburserClient(&cfg.Disburser),
		Journal:       storage.NewSettlementJournal(redisCache, cfg.Settlement.JournalTTL),
		ReferralRate:  cfg.Settlement.ReferralRate,
		Memo:          cfg.Disburser.Memo,
		Interval:      cfg.Settlement.Interval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create settlement worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := settlement.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start settlement worker")
	}

	logger.WithFields(map[string]interface{}{
		"interval":     cfg.Settlement.Interval.String(),
		"referralRate": cfg.Settlement.ReferralRate.String(),
	}).Info("Settlement worker running")

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping settlement worker")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := settlement.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Settlement worker did not stop cleanly")
	}

	if status := settlement.GetStatus(); status.LastCycle != nil {
		logger.WithFields(map[string]interface{}{
			"lastOutcome": status.LastCycle.Outcome,
			"lastRun":     status.LastRun,
		}).Info("Settlement worker stopped")
	}
}
