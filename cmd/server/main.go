// Package main provides the API server entry point for the marketplace backend.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonft-app/backend/internal/adapter"
	"github.com/tonft-app/backend/internal/api"
	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/service"
	"github.com/tonft-app/backend/internal/storage"
)

const (
	statisticsCacheTTL    = 30 * time.Second
	endpointResetInterval = time.Minute
	shutdownTimeout       = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Marketplace API server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres holds the order and bonus ledgers
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	if err := storage.RunMigrations(storage.PostgresURL(&cfg.Database.Postgres)); err != nil {
		logger.WithError(err).Fatal("Failed to run Postgres migrations")
	}

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// ClickHouse is optional: without it events are not archived and statistics come
	// from the order ledger
	var (
		archive      service.MarketEventStore
		archiveStats service.StatisticsSource
	)
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, market event archive disabled")
		} else {
			defer clickhouse.Close()
			if err := storage.RunClickHouseMigrations(ctx, clickhouse); err != nil {
				logger.WithError(err).Fatal("Failed to run ClickHouse migrations")
			}
			repo := storage.NewMarketEventRepository(clickhouse)
			archive, archiveStats = repo, repo
		}
	}

	toncenter, err := adapter.NewToncenterClient(&cfg.Toncenter)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create toncenter client")
	}
	canonicalizer := adapter.NewCachedCanonicalizer(toncenter, storage.NewAddressCache(redisCache, cfg.Cache.AddressTTL))
	tonapi := adapter.NewTonapiClient(&cfg.Tonapi)
	notifier := adapter.NewTelegramNotifier(&cfg.Telegram, cfg.Marketplace.SiteURL, tonapi)

	orders := storage.NewOrderRepository(postgres)
	bonuses := storage.NewBonusRepository(postgres)
	events := service.NewEventRecorder(archive)

	verifier := service.NewListingVerifier(toncenter, orders, notifier, events)
	reconciler := service.NewPurchaseReconciler(toncenter, canonicalizer, orders, bonuses, notifier, events,
		service.ReconcilerConfig{
			PollInterval:  cfg.Reconcile.PollInterval,
			AttemptBudget: cfg.Reconcile.AttemptBudget,
		})
	statistics := service.NewStatisticsService(archiveStats, orders, statisticsCacheTTL)
	catalog := service.NewOfferCatalog(orders, tonapi, canonicalizer, statistics)
	discovery := service.NewContractDiscovery(toncenter, cfg.Marketplace.Address)

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, &api.Services{
		Listings:   verifier,
		Purchases:  reconciler,
		Orders:     orders,
		Offers:     catalog,
		Items:      tonapi,
		Contracts:  discovery,
		Statistics: statistics,
		Health: map[string]api.HealthCheck{
			"postgres": postgres.Ping,
			"redis":    redisCache.Ping,
		},
	})

	go resetToPrimaryEndpoint(ctx, toncenter.Pool())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.WithError(err).Error("API server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited gracefully")
}

// resetToPrimaryEndpoint moves the toncenter pool back to its primary endpoint once
// the cooldown has passed
func resetToPrimaryEndpoint(ctx context.Context, pool *adapter.EndpointPool) {
	ticker := time.NewTicker(endpointResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool.TryResetToPrimary() {
				logging.WithField("endpoint", pool.Current()).Info("Toncenter switched back to primary endpoint")
			}
		}
	}
}
