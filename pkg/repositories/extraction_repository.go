package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strata-data/extract-engine/pkg/apperrors"
	"github.com/strata-data/extract-engine/pkg/database"
	"github.com/strata-data/extract-engine/pkg/models"
)

// ExtractionRepository is the durable mirror of the orchestrator's
// process table plus the catalog of registered sources. Snapshots are
// upserted on every transition so the latest row always reflects the
// live state.
type ExtractionRepository interface {
	// Source catalog
	CreateSource(ctx context.Context, desc *models.SourceDescriptor) error
	GetSource(ctx context.Context, sourceID string) (*models.SourceDescriptor, error)
	ListSources(ctx context.Context) ([]*models.SourceDescriptor, error)
	DeleteSource(ctx context.Context, sourceID string) error

	// Extraction history
	RecordSnapshot(ctx context.Context, snap models.ExtractionSnapshot) error
	GetExtraction(ctx context.Context, id uuid.UUID) (*models.ExtractionSnapshot, error)
	ListExtractions(ctx context.Context, sourceID string, limit int) ([]*models.ExtractionSnapshot, error)
}

type extractionRepository struct {
	db *database.DB
}

// NewExtractionRepository creates an ExtractionRepository.
func NewExtractionRepository(db *database.DB) ExtractionRepository {
	return &extractionRepository{db: db}
}

var _ ExtractionRepository = (*extractionRepository)(nil)

func (r *extractionRepository) CreateSource(ctx context.Context, desc *models.SourceDescriptor) error {
	config, err := json.Marshal(desc.Config)
	if err != nil {
		return fmt.Errorf("encode source config: %w", err)
	}

	query := `
		INSERT INTO engine_sources (source_id, name, source_type, config, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE
		SET name = EXCLUDED.name,
		    source_type = EXCLUDED.source_type,
		    config = EXCLUDED.config`

	_, err = r.db.Exec(ctx, query,
		desc.SourceID, desc.Name, desc.Type, config, desc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return nil
}

func (r *extractionRepository) GetSource(ctx context.Context, sourceID string) (*models.SourceDescriptor, error) {
	query := `
		SELECT source_id, name, source_type, config, created_at
		FROM engine_sources
		WHERE source_id = $1`

	var desc models.SourceDescriptor
	var config []byte
	err := r.db.QueryRow(ctx, query, sourceID).Scan(
		&desc.SourceID, &desc.Name, &desc.Type, &config, &desc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", sourceID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &desc.Config); err != nil {
			return nil, fmt.Errorf("decode source config: %w", err)
		}
	}
	return &desc, nil
}

func (r *extractionRepository) ListSources(ctx context.Context) ([]*models.SourceDescriptor, error) {
	query := `
		SELECT source_id, name, source_type, config, created_at
		FROM engine_sources
		ORDER BY source_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var descs []*models.SourceDescriptor
	for rows.Next() {
		var desc models.SourceDescriptor
		var config []byte
		if err := rows.Scan(&desc.SourceID, &desc.Name, &desc.Type, &config, &desc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &desc.Config); err != nil {
				return nil, fmt.Errorf("decode source config: %w", err)
			}
		}
		descs = append(descs, &desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return descs, nil
}

func (r *extractionRepository) DeleteSource(ctx context.Context, sourceID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_sources WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", sourceID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *extractionRepository) RecordSnapshot(ctx context.Context, snap models.ExtractionSnapshot) error {
	params, err := json.Marshal(snap.Params)
	if err != nil {
		return fmt.Errorf("encode extraction params: %w", err)
	}
	result, err := json.Marshal(snap.ResultMetadata)
	if err != nil {
		return fmt.Errorf("encode result metadata: %w", err)
	}
	errDetails, err := json.Marshal(snap.ErrorDetails)
	if err != nil {
		return fmt.Errorf("encode error details: %w", err)
	}
	healing, err := json.Marshal(snap.HealingActions)
	if err != nil {
		return fmt.Errorf("encode healing actions: %w", err)
	}

	query := `
		INSERT INTO engine_extractions (
			id, source_id, source_name, source_type, params, status,
			start_time, end_time, result_metadata, error_details,
			retry_count, retried_from, healing_actions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    result_metadata = EXCLUDED.result_metadata,
		    error_details = EXCLUDED.error_details,
		    retry_count = EXCLUDED.retry_count,
		    healing_actions = EXCLUDED.healing_actions,
		    updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		snap.ID, snap.SourceID, snap.SourceName, snap.SourceType, params, snap.Status,
		snap.StartTime, snap.EndTime, result, errDetails,
		snap.RetryCount, snap.RetriedFrom, healing, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record extraction snapshot: %w", err)
	}
	return nil
}

func (r *extractionRepository) GetExtraction(ctx context.Context, id uuid.UUID) (*models.ExtractionSnapshot, error) {
	query := extractionSelect + ` WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	snap, err := scanExtraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("extraction %s: %w", id, apperrors.ErrNotFound)
	}
	return snap, err
}

func (r *extractionRepository) ListExtractions(ctx context.Context, sourceID string, limit int) ([]*models.ExtractionSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	query := extractionSelect
	args := []any{limit}
	if sourceID != "" {
		query += ` WHERE source_id = $2`
		args = append(args, sourceID)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", err)
	}
	defer rows.Close()

	var snaps []*models.ExtractionSnapshot
	for rows.Next() {
		snap, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extractions: %w", err)
	}
	return snaps, nil
}

const extractionSelect = `
	SELECT id, source_id, source_name, source_type, params, status,
	       start_time, end_time, result_metadata, error_details,
	       retry_count, retried_from, healing_actions, created_at
	FROM engine_extractions`

func scanExtraction(row pgx.Row) (*models.ExtractionSnapshot, error) {
	var snap models.ExtractionSnapshot
	var params, result, errDetails, healing []byte
	if err := row.Scan(
		&snap.ID, &snap.SourceID, &snap.SourceName, &snap.SourceType, &params, &snap.Status,
		&snap.StartTime, &snap.EndTime, &result, &errDetails,
		&snap.RetryCount, &snap.RetriedFrom, &healing, &snap.CreatedAt,
	); err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		raw  []byte
		dest any
	}{
		{params, &snap.Params},
		{result, &snap.ResultMetadata},
		{errDetails, &snap.ErrorDetails},
		{healing, &snap.HealingActions},
	} {
		if len(pair.raw) > 0 && string(pair.raw) != "null" {
			if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
				return nil, fmt.Errorf("decode extraction field: %w", err)
			}
		}
	}
	return &snap, nil
}
