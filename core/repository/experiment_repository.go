package repository

import (
	"context"
	"database/sql"
	"time"

	"experiment-tracker/core/models"
)

// ExperimentRepository handles database operations for experiments
type ExperimentRepository struct {
	db *DB
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// CreateExperiment inserts a new experiment and returns it with its id
func (r *ExperimentRepository) CreateExperiment(ctx context.Context, name, description string) (*models.Experiment, error) {
	now := time.Now()
	exp := &models.Experiment{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO experiments (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, name, description, now, now).Scan(&exp.ID); err != nil {
		return nil, err
	}

	return exp, nil
}

// GetExperiment retrieves an experiment by id
func (r *ExperimentRepository) GetExperiment(ctx context.Context, id int64) (*models.Experiment, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM experiments
		WHERE id = $1
	`

	var exp models.Experiment
	var description sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&exp.ID,
		&exp.Name,
		&description,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		exp.Description = description.String
	}

	return &exp, nil
}

// ExperimentExists reports whether an experiment id is known
func (r *ExperimentRepository) ExperimentExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM experiments WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// ListExperiments lists all experiments
func (r *ExperimentRepository) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM experiments
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*models.Experiment
	for rows.Next() {
		var exp models.Experiment
		var description sql.NullString
		if err := rows.Scan(&exp.ID, &exp.Name, &description, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			exp.Description = description.String
		}
		exps = append(exps, &exp)
	}

	return exps, rows.Err()
}

// DeleteExperiment removes an experiment row
func (r *ExperimentRepository) DeleteExperiment(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	return err
}
