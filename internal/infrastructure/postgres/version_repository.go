package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
)

// DBTX abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// VersionRepository implements repository.VersionRepository using
// PostgreSQL, storing each version's requested OutputAttributes as a
// JSON column for the dedup/editing check.
type VersionRepository struct {
	db DBTX
}

func NewVersionRepository(db DBTX) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) Create(ctx context.Context, rec model.VersionRecord) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal output attributes: %w", err)
	}

	const query = `
		INSERT INTO transcoded_versions (usr_id, upld_req_id, version_label, attributes)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.db.Exec(ctx, query, rec.Resource.UserID, rec.Resource.UploadReqID, string(rec.Label), attrs)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateVersion
		}
		return fmt.Errorf("failed to create version record: %w", err)
	}
	return nil
}

func (r *VersionRepository) Get(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (model.VersionRecord, error) {
	const query = `
		SELECT usr_id, upld_req_id, version_label, attributes
		FROM transcoded_versions
		WHERE usr_id = $1 AND upld_req_id = $2 AND version_label = $3
	`
	rec, err := r.scan(r.db.QueryRow(ctx, query, resource.UserID, resource.UploadReqID, string(label)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.VersionRecord{}, repository.ErrVersionNotFound
		}
		return model.VersionRecord{}, fmt.Errorf("failed to get version record: %w", err)
	}
	return rec, nil
}

func (r *VersionRepository) ListByResource(ctx context.Context, resource model.ResourceKey) ([]model.VersionRecord, error) {
	const query = `
		SELECT usr_id, upld_req_id, version_label, attributes
		FROM transcoded_versions
		WHERE usr_id = $1 AND upld_req_id = $2
		ORDER BY version_label
	`
	rows, err := r.db.Query(ctx, query, resource.UserID, resource.UploadReqID)
	if err != nil {
		return nil, fmt.Errorf("failed to query version records: %w", err)
	}
	defer rows.Close()

	var records []model.VersionRecord
	for rows.Next() {
		rec, err := r.scanFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version records: %w", err)
	}
	return records, nil
}

func (r *VersionRepository) Update(ctx context.Context, rec model.VersionRecord) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal output attributes: %w", err)
	}
	const query = `
		UPDATE transcoded_versions
		SET attributes = $4
		WHERE usr_id = $1 AND upld_req_id = $2 AND version_label = $3
	`
	tag, err := r.db.Exec(ctx, query, rec.Resource.UserID, rec.Resource.UploadReqID, string(rec.Label), attrs)
	if err != nil {
		return fmt.Errorf("failed to update version record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionNotFound
	}
	return nil
}

func (r *VersionRepository) Delete(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) error {
	const query = `
		DELETE FROM transcoded_versions
		WHERE usr_id = $1 AND upld_req_id = $2 AND version_label = $3
	`
	tag, err := r.db.Exec(ctx, query, resource.UserID, resource.UploadReqID, string(label))
	if err != nil {
		return fmt.Errorf("failed to delete version record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionNotFound
	}
	return nil
}

func (r *VersionRepository) scan(row pgx.Row) (model.VersionRecord, error) {
	var (
		userID, uploadReqID uint32
		label               string
		attrsRaw            []byte
	)
	if err := row.Scan(&userID, &uploadReqID, &label, &attrsRaw); err != nil {
		return model.VersionRecord{}, err
	}
	return recordFromScan(userID, uploadReqID, label, attrsRaw)
}

func (r *VersionRepository) scanFromRows(rows pgx.Rows) (model.VersionRecord, error) {
	var (
		userID, uploadReqID uint32
		label               string
		attrsRaw            []byte
	)
	if err := rows.Scan(&userID, &uploadReqID, &label, &attrsRaw); err != nil {
		return model.VersionRecord{}, err
	}
	return recordFromScan(userID, uploadReqID, label, attrsRaw)
}

func recordFromScan(userID, uploadReqID uint32, label string, attrsRaw []byte) (model.VersionRecord, error) {
	var attrs model.OutputAttributes
	if err := json.Unmarshal(attrsRaw, &attrs); err != nil {
		return model.VersionRecord{}, fmt.Errorf("failed to unmarshal output attributes: %w", err)
	}
	return model.VersionRecord{
		Resource:   model.ResourceKey{UserID: userID, UploadReqID: uploadReqID},
		Label:      model.VersionLabel(label),
		Attributes: attrs,
	}, nil
}

var _ repository.VersionRepository = (*VersionRepository)(nil)
