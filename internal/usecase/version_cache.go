// Package usecase wires the domain and infrastructure layers into the
// two application-level operations the system exposes: running a
// transcode job end to end, and resolving a version record through a
// cache-aside layer ahead of the dedup/editing check.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/infrastructure/cache"
	"github.com/metalalive/atfp-go/internal/infrastructure/metrics"
)

// CachedVersionRepositoryConfig holds the TTL used when populating the
// cache on a miss.
type CachedVersionRepositoryConfig struct {
	CacheTTL time.Duration
}

func DefaultCachedVersionRepositoryConfig() CachedVersionRepositoryConfig {
	return CachedVersionRepositoryConfig{CacheTTL: 5 * time.Minute}
}

// cachedVersionRepository wraps a repository.VersionRepository with a
// cache-aside layer. It implements the decorator pattern so callers that
// only need the dedup/editing check's hot Get path get caching for free
// without the underlying Postgres-backed implementation knowing about
// Redis at all.
type cachedVersionRepository struct {
	delegate repository.VersionRepository
	cache    cache.VersionCache
	sfGroup  singleflight.Group

	cacheTTL time.Duration
}

// NewCachedVersionRepository wraps delegate with a Get-path cache-aside
// layer. Passing a nil cache disables caching and simply forwards every
// call.
func NewCachedVersionRepository(delegate repository.VersionRepository, versionCache cache.VersionCache, cfg CachedVersionRepositoryConfig) repository.VersionRepository {
	if versionCache == nil {
		return delegate
	}
	return &cachedVersionRepository{delegate: delegate, cache: versionCache, cacheTTL: cfg.CacheTTL}
}

func cacheSingleflightKey(resource model.ResourceKey, label model.VersionLabel) string {
	return resource.Dir() + "/" + string(label)
}

// Get resolves a version record through the cache, coalescing concurrent
// lookups for the same resource/label via singleflight so a burst of
// identical job resubmissions hits the database at most once.
func (r *cachedVersionRepository) Get(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (model.VersionRecord, error) {
	key := cacheSingleflightKey(resource, label)
	result, err, shared := r.sfGroup.Do(key, func() (any, error) {
		return r.getWithCache(ctx, resource, label)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return model.VersionRecord{}, err
	}
	return result.(model.VersionRecord), nil
}

func (r *cachedVersionRepository) getWithCache(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (model.VersionRecord, error) {
	rec, err := r.cache.Get(ctx, resource, label)
	if err != nil {
		slog.Warn("version cache get failed, falling back to repository",
			"resource", resource.Dir(), "label", label, "error", err)
	}
	if rec != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
		return *rec, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()

	found, err := r.delegate.Get(ctx, resource, label)
	if err != nil {
		return model.VersionRecord{}, err
	}

	if err := r.cache.Set(ctx, found, r.cacheTTL); err != nil {
		slog.Warn("failed to cache version record",
			"resource", resource.Dir(), "label", label, "error", err)
	}
	return found, nil
}

// Create persists through the delegate, then deletes any cache entry
// for the label. Get never caches a not-found result, so this only
// clears an entry that an earlier successful Get stored.
func (r *cachedVersionRepository) Create(ctx context.Context, rec model.VersionRecord) error {
	if err := r.delegate.Create(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.Resource, rec.Label)
	return nil
}

func (r *cachedVersionRepository) ListByResource(ctx context.Context, resource model.ResourceKey) ([]model.VersionRecord, error) {
	return r.delegate.ListByResource(ctx, resource)
}

// Update persists through the delegate and invalidates the cache entry
// so the next Get observes the new attributes instead of a stale
// dedup-check verdict.
func (r *cachedVersionRepository) Update(ctx context.Context, rec model.VersionRecord) error {
	if err := r.delegate.Update(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.Resource, rec.Label)
	return nil
}

func (r *cachedVersionRepository) Delete(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) error {
	if err := r.delegate.Delete(ctx, resource, label); err != nil {
		return err
	}
	r.invalidate(ctx, resource, label)
	return nil
}

func (r *cachedVersionRepository) invalidate(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) {
	if err := r.cache.Delete(ctx, resource, label); err != nil {
		slog.Warn("failed to invalidate version cache",
			"resource", resource.Dir(), "label", label, "error", err)
	}
}

var _ repository.VersionRepository = (*cachedVersionRepository)(nil)
