package cache

import (
	"context"
	"time"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

// VersionCache provides a cache-aside layer in front of the version
// repository's dedup/editing lookup, avoiding a database
// round trip for the common case of re-submitting an identical job.
type VersionCache interface {
	// Get retrieves a version record from cache by resource and label.
	// Returns nil, nil on cache miss.
	Get(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (*model.VersionRecord, error)

	// Set stores a version record in cache with the specified TTL.
	Set(ctx context.Context, rec model.VersionRecord, ttl time.Duration) error

	// Delete removes a version record from cache.
	Delete(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) error
}

// RotationChannel is the pub/sub channel rotation events are broadcast
// on so that every worker replica's in-memory key cache stays coherent
// with the key manager that performed the rotation.
const RotationChannel = "atfp:crypto:rotated"
