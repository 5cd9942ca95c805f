// internal/repository/postgres/plan_repo.go
package postgres

import (
	"context"
	"fmt"

	"inspecto-service/internal/domain/plan"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlanRepository struct {
	db *pgxpool.Pool
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, type, price, duration_days, max_clients, max_employees, max_assets, created_at, updated_at`

func scanPlan(row pgx.Row, p *plan.Plan) error {
	return row.Scan(
		&p.ID, &p.Type, &p.Price, &p.DurationDays,
		&p.MaxClients, &p.MaxEmployees, &p.MaxAssets,
		&p.CreatedAt, &p.UpdatedAt,
	)
}

// CreateWithTx inserts the plan and its feature grants.
func (r *PlanRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *plan.Plan, featureIDs []uuid.UUID) error {
	query := `
		INSERT INTO plans (type, price, duration_days, max_clients, max_employees, max_assets)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		p.Type, p.Price, p.DurationDays, p.MaxClients, p.MaxEmployees, p.MaxAssets,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("plan of type %s: %w", p.Type, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	batch := &pgx.Batch{}
	for _, fid := range featureIDs {
		batch.Queue(`INSERT INTO plan_features (plan_id, feature_id, enabled) VALUES ($1, $2, TRUE)`, p.ID, fid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("unknown feature id: %w", xerrors.ErrInvalidInput)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("duplicate feature id: %w", xerrors.ErrInvalidInput)
		}
		return fmt.Errorf("failed to grant plan features: %w", err)
	}

	features, err := r.featuresFor(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	p.Features = features
	return nil
}

func (r *PlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	return r.findByID(ctx, r.db, id)
}

// FindByIDWithTx reads the plan and its current feature grants inside tx.
func (r *PlanRepository) FindByIDWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*plan.Plan, error) {
	return r.findByID(ctx, tx, id)
}

func (r *PlanRepository) findByID(ctx context.Context, q querier, id uuid.UUID) (*plan.Plan, error) {
	var p plan.Plan
	err := scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id), &p)
	if isNoRows(err) {
		return nil, xerrors.NotFound("plan")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}

	features, err := r.featuresFor(ctx, q, p.ID)
	if err != nil {
		return nil, err
	}
	p.Features = features
	return &p, nil
}

func (r *PlanRepository) featuresFor(ctx context.Context, q querier, planID uuid.UUID) ([]plan.PlanFeature, error) {
	query := `
		SELECT f.id, f.key, f.name, pf.enabled
		FROM plan_features pf
		JOIN features f ON f.id = pf.feature_id
		WHERE pf.plan_id = $1
		ORDER BY f.key
	`
	rows, err := q.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan features: %w", err)
	}
	defer rows.Close()

	features := []plan.PlanFeature{}
	for rows.Next() {
		var f plan.PlanFeature
		if err := rows.Scan(&f.FeatureID, &f.Key, &f.Name, &f.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan plan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func (r *PlanRepository) List(ctx context.Context) ([]*plan.Plan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY price ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := []*plan.Plan{}
	for rows.Next() {
		var p plan.Plan
		if err := scanPlan(rows, &p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, &p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	for _, p := range plans {
		if p.Features, err = r.featuresFor(ctx, r.db, p.ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// Update changes price and quotas only.
func (r *PlanRepository) Update(ctx context.Context, id uuid.UUID, req *plan.UpdatePlanRequest) (*plan.Plan, error) {
	query := `
		UPDATE plans
		SET price = COALESCE($2, price),
		    max_clients = COALESCE($3, max_clients),
		    max_employees = COALESCE($4, max_employees),
		    max_assets = COALESCE($5, max_assets),
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, req.Price, req.MaxClients, req.MaxEmployees, req.MaxAssets)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, xerrors.NotFound("plan")
	}
	return r.FindByID(ctx, id)
}

// Delete removes a plan nobody has paid for or subscribed to.
func (r *PlanRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("plan is referenced by memberships or payments: %w", xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.NotFound("plan")
	}
	return nil
}
