package repository

import (
	"context"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

// VersionRepository defines the interface for version record persistence,
// backing ownership checks and the dedup/editing check ahead of a job
// Implementations live in the infrastructure layer (e.g.
// PostgreSQL).
type VersionRepository interface {
	// Create persists a new version record. Returns ErrDuplicateVersion
	// if a record with identical attributes already exists for the
	// resource and label.
	Create(ctx context.Context, rec model.VersionRecord) error

	// Get retrieves a version record by resource and label. Returns
	// ErrVersionNotFound if absent.
	Get(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (model.VersionRecord, error)

	// ListByResource retrieves all version records for a resource.
	ListByResource(ctx context.Context, resource model.ResourceKey) ([]model.VersionRecord, error)

	// Update replaces an existing version record's attributes. Returns
	// ErrVersionNotFound if the record does not exist.
	Update(ctx context.Context, rec model.VersionRecord) error

	// Delete removes a version record. Returns ErrVersionNotFound if the
	// record does not exist.
	Delete(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) error
}
