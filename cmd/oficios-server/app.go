package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/labforense/oficios/internal/config"
	"github.com/labforense/oficios/internal/domain/casework"
	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/domain/workload"
	"github.com/labforense/oficios/internal/platform/blobstore"
	"github.com/labforense/oficios/internal/platform/db"
	"github.com/labforense/oficios/internal/platform/metrics"
)

// app holds the wired services shared by serve and route.
type app struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	blobs    blobstore.BlobStore
	oficios  *oficio.Service
	casework *casework.Service
}

// newApp connects to Postgres, Redis (when REDIS_URL is set) and the blob
// store, and builds the domain services. reg may be nil to skip metrics.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return nil, err
	}
	a := &app{pool: pool}

	blobs, err := blobstore.Open(ctx, blobstore.Config{
		Driver:     cfg.BlobDriver,
		S3Bucket:   cfg.BlobS3Bucket,
		S3Region:   cfg.BlobS3Region,
		S3Endpoint: cfg.BlobS3Endpoint,
		PathStyle:  cfg.BlobS3PathStyle,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.blobs = blobs

	cases := oficio.NewCaseRepo(pool)
	examiners := oficio.NewExaminerRepo(pool)

	deps := casework.Deps{
		Tx:        db.NewTxRunner(pool),
		Cases:     cases,
		Examiners: examiners,
		Events:    tracking.NewRepo(pool),
		Samples:   sample.NewRepo(pool),
		Results:   result.NewRepo(pool),
		Metadata:  consolidation.NewMetadataRepo(pool),
		Workload:  workload.NewIndex(pool),
		Blobs:     blobs,
		Logger:    logger.With().Str("component", "casework").Logger(),
	}
	if reg != nil {
		deps.Metrics = metrics.NewMutations(reg)
	}
	a.oficios = oficio.NewService(cases, examiners)

	if cfg.RedisURL != "" && cfg.WorkloadCacheTTL > 0 {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, workload lookups will fall back to postgres")
		}
		cancel()

		cached := workload.NewCachedIndex(deps.Workload, a.redis, cfg.WorkloadCacheTTL,
			logger.With().Str("component", "workload_cache").Logger())
		deps.Workload = cached
		deps.Invalidator = cached
		a.oficios.WithWorkloadInvalidator(cached)
	}

	a.casework = casework.NewService(deps)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
