// internal/repository/postgres/feature_repo.go
package postgres

import (
	"context"
	"fmt"

	"inspecto-service/internal/domain/plan"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FeatureRepository struct {
	db *pgxpool.Pool
}

func NewFeatureRepository(db *pgxpool.Pool) *FeatureRepository {
	return &FeatureRepository{db: db}
}

const featureColumns = `id, key, name, description, created_at, updated_at`

func (r *FeatureRepository) Create(ctx context.Context, f *plan.Feature) error {
	query := `
		INSERT INTO features (key, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, f.Key, f.Name, f.Description).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("feature %q: %w", f.Key, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create feature: %w", err)
	}
	return nil
}

func (r *FeatureRepository) FindByID(ctx context.Context, id uuid.UUID) (*plan.Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features WHERE id = $1`

	var f plan.Feature
	err := r.db.QueryRow(ctx, query, id).Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.CreatedAt, &f.UpdatedAt)
	if isNoRows(err) {
		return nil, xerrors.NotFound("feature")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find feature: %w", err)
	}
	return &f, nil
}

func (r *FeatureRepository) List(ctx context.Context) ([]*plan.Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	features := []*plan.Feature{}
	for rows.Next() {
		var f plan.Feature
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, &f)
	}
	return features, rows.Err()
}

func (r *FeatureRepository) Update(ctx context.Context, id uuid.UUID, req *plan.UpdateFeatureRequest) (*plan.Feature, error) {
	query := `
		UPDATE features
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + featureColumns

	var f plan.Feature
	err := r.db.QueryRow(ctx, query, id, req.Name, req.Description).
		Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.CreatedAt, &f.UpdatedAt)
	if isNoRows(err) {
		return nil, xerrors.NotFound("feature")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update feature: %w", err)
	}
	return &f, nil
}

// Delete removes a feature not granted by any plan.
func (r *FeatureRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM features WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("feature is granted by a plan: %w", xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.NotFound("feature")
	}
	return nil
}
