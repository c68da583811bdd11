package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/strata-data/extract-engine/pkg/database"
	"github.com/strata-data/extract-engine/pkg/models"
)

// DependencyRepository provides data access for dependency edges.
// Removal is a soft delete: rows flip to inactive and stay queryable for
// audit, matching the manager's replay semantics.
type DependencyRepository interface {
	Create(ctx context.Context, dep *models.Dependency) error
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
	ListActive(ctx context.Context) ([]*models.Dependency, error)
	ListAll(ctx context.Context) ([]*models.Dependency, error)
}

type dependencyRepository struct {
	db *database.DB
}

// NewDependencyRepository creates a DependencyRepository.
func NewDependencyRepository(db *database.DB) DependencyRepository {
	return &dependencyRepository{db: db}
}

var _ DependencyRepository = (*dependencyRepository)(nil)

func (r *dependencyRepository) Create(ctx context.Context, dep *models.Dependency) error {
	params, err := json.Marshal(dep.Parameters)
	if err != nil {
		return fmt.Errorf("encode dependency parameters: %w", err)
	}

	query := `
		INSERT INTO engine_dependencies (
			id, source_id, target_id, dependency_type,
			parameters, is_required, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		dep.ID, dep.SourceID, dep.TargetID, dep.Type,
		params, dep.Required, dep.Active, dep.CreatedAt, dep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create dependency: %w", err)
	}
	return nil
}

func (r *dependencyRepository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE engine_dependencies
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("deactivate dependency: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *dependencyRepository) ListActive(ctx context.Context) ([]*models.Dependency, error) {
	return r.list(ctx, `
		SELECT id, source_id, target_id, dependency_type,
		       parameters, is_required, is_active, created_at, updated_at
		FROM engine_dependencies
		WHERE is_active = TRUE
		ORDER BY created_at`)
}

func (r *dependencyRepository) ListAll(ctx context.Context) ([]*models.Dependency, error) {
	return r.list(ctx, `
		SELECT id, source_id, target_id, dependency_type,
		       parameters, is_required, is_active, created_at, updated_at
		FROM engine_dependencies
		ORDER BY created_at`)
}

func (r *dependencyRepository) list(ctx context.Context, query string) ([]*models.Dependency, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*models.Dependency
	for rows.Next() {
		var dep models.Dependency
		var params []byte
		if err := rows.Scan(
			&dep.ID, &dep.SourceID, &dep.TargetID, &dep.Type,
			&params, &dep.Required, &dep.Active, &dep.CreatedAt, &dep.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &dep.Parameters); err != nil {
				return nil, fmt.Errorf("decode dependency parameters: %w", err)
			}
		}
		deps = append(deps, &dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return deps, nil
}
