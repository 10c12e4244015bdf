// Package main runs the API gateway.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app"
	"github.com/baldgiev-collab/serpifai/internal/app/storage/postgres"
	"github.com/baldgiev-collab/serpifai/internal/app/storage/rediscache"
	"github.com/baldgiev-collab/serpifai/internal/config"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("main").WithError(err).Error("configuration invalid")
		os.Exit(1)
	}

	log := logger.New("gateway", cfg.Logging)
	log.WithField("addr", cfg.Server.Addr).Info("starting gateway")

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("storage setup failed")
		os.Exit(1)
	}
	defer cleanup()

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Error("application setup failed")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("application start failed")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// buildStores opens the configured backends. The returned cleanup closes
// whatever was opened.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	var stores app.Stores
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.Database.Driver == "postgres" {
		db, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = db.Close() })

		if err := postgres.Migrate(db); err != nil {
			return app.Stores{}, cleanup, err
		}

		store := postgres.New(db)
		stores.Accounts = store
		stores.Transactions = store
		stores.Activity = store
		stores.Cache = store
		log.Info("using postgres storage")
	} else {
		log.Warn("using in-memory storage; data will not survive restarts")
	}

	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cache, err := rediscache.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = cache.Close() })
		stores.Cache = cache
		log.WithField("addr", cfg.Redis.Addr).Info("using redis fetch cache")
	}

	return stores, cleanup, nil
}
