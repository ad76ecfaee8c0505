package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parcelwatch/parcelwatch/config"
	"github.com/parcelwatch/parcelwatch/internal/broker/kafka"
	"github.com/parcelwatch/parcelwatch/internal/cache"
	"github.com/parcelwatch/parcelwatch/internal/cache/rediscache"
	"github.com/parcelwatch/parcelwatch/internal/integrations/provider"
	"github.com/parcelwatch/parcelwatch/internal/integrations/provider/fake"
	"github.com/parcelwatch/parcelwatch/internal/integrations/provider/ship24"
	"github.com/parcelwatch/parcelwatch/internal/metrics"
	"github.com/parcelwatch/parcelwatch/internal/services/sweeper"
	"github.com/parcelwatch/parcelwatch/internal/services/tracker"
	"github.com/parcelwatch/parcelwatch/internal/storage/memwatchlist"
	"github.com/parcelwatch/parcelwatch/internal/storage/pgwatchlist"
)

type appFactories struct {
	newWatchlist   func(cfg *config.Config) (wl tracker.Watchlist, closeFn func(), err error)
	newProvider    func(cfg *config.Config) provider.Client
	newProducer    func(cfg *config.Config) tracker.Producer
	newMirror      func(cfg *config.Config) cache.BytesCache
	newRateLimiter func(cfg *config.Config) sweeper.RateLimiter
}

func defaultAppFactories() appFactories {
	return appFactories{
		newWatchlist: func(cfg *config.Config) (tracker.Watchlist, func(), error) {
			if cfg.Database.Host == "" {
				// No database configured: watch list lives only in memory.
				slog.Warn("database not configured, watch list will not survive restarts")
				return memwatchlist.New(), nil, nil
			}
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgwatchlist.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProvider: func(cfg *config.Config) provider.Client {
			if cfg.Ship24.APIKey == "" {
				// Demo mode without an API key.
				slog.Warn("ship24 api key not configured, using fake provider")
				return fake.New()
			}
			return ship24.New(cfg.Ship24.BaseURL, cfg.Ship24.APIKey)
		},
		newProducer: func(cfg *config.Config) tracker.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newMirror: func(cfg *config.Config) cache.BytesCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newRateLimiter: func(cfg *config.Config) sweeper.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
	}
}

func RunParcelWatch(ctx context.Context, cfg *config.Config, swaggerPath string, f appFactories) error {
	metrics.RegisterDefault()

	topic := cfg.Kafka.PackageUpdatedTopicName
	if topic == "" {
		topic = "package.updated"
	}
	interval := time.Duration(cfg.ParcelWatch.UpdateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	mirrorTTL := time.Duration(cfg.ParcelWatch.MirrorTTLSeconds) * time.Second
	if mirrorTTL <= 0 {
		mirrorTTL = 24 * time.Hour
	}
	webhookKey := cfg.ParcelWatch.WebhookKey
	if webhookKey == "" {
		webhookKey = uuid.NewString()
		slog.Info("generated webhook routing key", "key", webhookKey)
	}
	httpAddr := cfg.ParcelWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	wl, closeFn, err := f.newWatchlist(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	client := f.newProvider(cfg)

	store := tracker.New(client, wl)
	if p := f.newProducer(cfg); p != nil {
		store = store.WithPublisher(p, topic)
	}
	if m := f.newMirror(cfg); m != nil {
		store = store.WithMirror(m, mirrorTTL)
	}
	if err := store.LoadWatchlist(ctx); err != nil {
		return err
	}

	sw := sweeper.New(store).
		WithInterval(interval).
		WithRateLimiter(f.newRateLimiter(cfg), int64(cfg.ParcelWatch.SweepRateLimitPerMinute))

	// First sweep right away so cached state exists before the first tick.
	sw.Trigger()

	sweepErr := make(chan error, 1)
	go func() {
		sweepErr <- sw.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
			webhookKey:  webhookKey,
			store:       store,
			sweeper:     sw,
			client:      client,
			cfg:         cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sweepErr:
		return err
	case err := <-httpErr:
		if ctx.Err() != nil {
			// Shutdown-induced serve error, not a real failure.
			return ctx.Err()
		}
		return err
	}
}
