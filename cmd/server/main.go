// Command server runs the Alexander Storage ingest and release-download
// API: the HTTP front door over the pack-file store, catalog, and ingest
// session manager.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-storage/internal/auth"
	"github.com/prn-tf/alexander-storage/internal/cache/memory"
	"github.com/prn-tf/alexander-storage/internal/cache/redis"
	"github.com/prn-tf/alexander-storage/internal/catalog"
	"github.com/prn-tf/alexander-storage/internal/catalog/postgres"
	"github.com/prn-tf/alexander-storage/internal/catalog/sqlite"
	"github.com/prn-tf/alexander-storage/internal/config"
	"github.com/prn-tf/alexander-storage/internal/handler"
	"github.com/prn-tf/alexander-storage/internal/ingest"
	"github.com/prn-tf/alexander-storage/internal/metrics"
	"github.com/prn-tf/alexander-storage/internal/middleware"
	"github.com/prn-tf/alexander-storage/internal/packstore"
	"github.com/prn-tf/alexander-storage/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file (overrides defaults; ALEXSTORE_* env vars override both)")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "alexander-storage").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbChecker, files, releases, repos, tokens, closeCatalog, err := openCatalog(ctx, cfg.Catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open catalog")
	}
	defer closeCatalog()
	_ = repos

	packEngine := packstore.NewEngine(packstore.EngineOptions{
		RootDir:          cfg.PackStore.RootDir,
		MaxPackSize:      cfg.PackStore.MaxPackSizeBytes,
		CompressionLevel: zstd.EncoderLevel(cfg.PackStore.CompressionLevel),
	})

	ingestAdapter := catalog.NewIngestAdapter(ctx, files, releases)
	sessions := ingest.NewManager(packEngine, ingestAdapter)

	authorizer := auth.NewAuthorizer(tokens)

	m := metrics.New()
	packEngine.SetMetrics(m)

	cacheClient, locker, unlockCache := buildCache(ctx, cfg, m, logger)
	defer unlockCache()
	cachedReleases := handler.NewCachedReleaseStore(releases, cacheClient)
	if locker != nil {
		sessions.SetLocker(locker)
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), m, logger)
	defer rateLimiter.Stop()
	tracing := middleware.NewTracing(m, logger)

	go reportPackStoreStats(ctx, packEngine, m, 30*time.Second)
	go repairPackStore(ctx, packEngine, logger, cfg.PackStore.RepairInterval)

	healthChecker := handler.NewHealthChecker(handler.HealthCheckerConfig{
		DatabaseChecker: dbChecker,
		StorageBackend:  packEngine,
		Logger:          logger,
	})

	router := handler.NewRouter(handler.RouterConfig{
		IngestHandler:  handler.NewIngestHandler(sessions, logger),
		ReleaseHandler: handler.NewReleaseHandler(cachedReleases, packEngine, logger),
		HealthChecker:  healthChecker,
		AuthMiddleware: handler.CreateAuthMiddleware(authorizer, m),
		RateLimiter:    rateLimiter,
		Tracing:        tracing,
		Metrics:        m,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openCatalog opens either a PostgreSQL or embedded SQLite catalog backend
// depending on cfg.DSN, and returns the repositories every handler needs
// plus a close func.
func openCatalog(ctx context.Context, cfg config.CatalogConfig, logger zerolog.Logger) (
	dbChecker handler.DatabaseChecker,
	files catalog.FileDefinitionRepo,
	releases catalog.ReleaseRepo,
	repos catalog.RepositoryRepo,
	tokens catalog.TokenRepo,
	closeFn func(),
	err error,
) {
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, nil, nil, func() {}, err
		}
		logger.Info().Msg("catalog backend: postgres")
		return db, postgres.NewFileDefinitionRepo(db), postgres.NewReleaseRepo(db),
			postgres.NewRepositoryRepo(db), postgres.NewTokenRepo(db), db.Close, nil
	}

	path := cfg.DSN
	if path == "" {
		path = "./data/catalog.db"
	}
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, nil, nil, nil, func() {}, err
	}
	logger.Info().Str("path", path).Msg("catalog backend: sqlite")
	return db, sqlite.NewFileDefinitionRepo(db), sqlite.NewReleaseRepo(db),
		sqlite.NewRepositoryRepo(db), sqlite.NewTokenRepo(db), func() { db.Close() }, nil
}

// reportPackStoreStats periodically copies packstore.Engine.Stats into the
// BlobsTotal/BlobsSize gauges until ctx is cancelled. A ticker loop rather
// than computing stats per-scrape: walking every shard's in-memory index on
// every Prometheus scrape would make scrape latency scale with store size.
func reportPackStoreStats(ctx context.Context, engine *packstore.Engine, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats := engine.Stats()
		m.BlobsTotal.Set(float64(stats.ChunkCount))
		m.BlobsSize.Set(float64(stats.StoredBytes))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// buildCache constructs the distributed cache backing release-record
// lookups, and (when Redis is reachable) the cross-replica lock Finalize
// uses to serialize release publication. Redis-backed when configured, an
// in-process fallback otherwise (single node deployments, or Redis
// unreachable at startup) with no locker, since a single node never races
// itself. m may be nil.
func buildCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (repository.Cache, repository.DistributedLock, func()) {
	if cfg.Redis.Host == "" {
		c := memory.NewCache()
		return c, nil, func() { c.Stop() }
	}

	client, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, falling back to in-process cache")
		c := memory.NewCache()
		return c, nil, func() { c.Stop() }
	}
	return redis.NewCache(client, time.Hour, m, "release_definition"), redis.NewDistributedLock(client), func() {}
}

// repairPackStore periodically sweeps every pack file for a truncated tail
// left by a prior crash, compacting it in place. Runs on its own cadence
// distinct from reportPackStoreStats since a repair sweep rewrites pack
// files and is far more expensive than reading the in-memory index.
func repairPackStore(ctx context.Context, engine *packstore.Engine, logger zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reclaimed, err := engine.RepairAll()
		if err != nil {
			logger.Error().Err(err).Msg("pack repair sweep failed")
			continue
		}
		if reclaimed > 0 {
			logger.Info().Int64("bytes_reclaimed", reclaimed).Msg("pack repair sweep reclaimed space")
		}
	}
}
