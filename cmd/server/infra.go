package main

import (
	"context"
	"fmt"
	"log/slog"

	anchorstore "veritas/internal/anchor/store"
	"veritas/internal/audit"
	"veritas/internal/credential/store"
	"veritas/internal/platform/config"
	"veritas/internal/platform/database"
	"veritas/internal/platform/health"
	redisclient "veritas/internal/platform/redis"
)

// infra holds the stores selected by configuration and the connections
// behind them.
type infra struct {
	credentials store.TransactionalStore
	anchors     anchorstore.Store
	epochs      anchorstore.EpochLog
	audit       audit.Store

	db    *database.Pool
	redis *redisclient.Client
	log   *slog.Logger
}

// openInfra picks Postgres stores when a database URL is set and in-memory
// stores otherwise. A Redis URL adds a read-through cache in front of the
// anchor records.
func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger, probes *health.Handler) (*infra, error) {
	in := &infra{log: log}

	if cfg.UsesPostgres() {
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		in.db = pool
		if err := database.Migrate(ctx, pool.DB()); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		probes.RegisterCheck("postgres", pool.Health)
		in.credentials = store.NewPostgres(pool.DB())
		anchors := anchorstore.NewPostgres(pool.DB())
		in.anchors, in.epochs = anchors, anchors
		in.audit = audit.NewPostgres(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory stores")
		in.credentials = store.NewInMemoryStore()
		anchors := anchorstore.NewInMemoryStore()
		in.anchors, in.epochs = anchors, anchors
		in.audit = audit.NewInMemoryStore()
	}

	if cfg.Redis.URL != "" {
		rc, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		in.redis = rc
		probes.RegisterCheck("redis", rc.Health)
		in.anchors = anchorstore.NewCached(in.anchors, rc.Client,
			anchorstore.WithCacheTTL(cfg.Redis.CacheTTL),
			anchorstore.WithCacheLogger(log),
		)
	}
	return in, nil
}

func (in *infra) Close() {
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			in.log.Warn("failed to close redis", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			in.log.Warn("failed to close postgres", "error", err)
		}
	}
}
