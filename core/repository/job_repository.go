package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"experiment-tracker/core/models"
)

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job row
func (r *JobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			job_id, experiment_id, name, status, model_type, parameters,
			epochs_completed, history, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.ExperimentID,
		job.Name,
		job.Status,
		job.Parameters.ModelType,
		paramsJSON,
		job.EpochsCompleted,
		"{}",
		job.CreatedAt,
	)
	return err
}

// GetJob retrieves a job by its opaque id
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT job_id, experiment_id, name, status, parameters,
			epochs_completed, best_accuracy, error, total_time, history,
			created_at, started_at, completed_at
		FROM jobs
		WHERE job_id = $1
	`

	var job models.Job
	var paramsJSON, historyJSON []byte
	var bestAccuracy sql.NullFloat64
	var errText sql.NullString
	var totalTime sql.NullFloat64
	var startedAt, completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.ExperimentID,
		&job.Name,
		&job.Status,
		&paramsJSON,
		&job.EpochsCompleted,
		&bestAccuracy,
		&errText,
		&totalTime,
		&historyJSON,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for job %s: %w", id, err)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &job.History); err != nil {
			return nil, fmt.Errorf("decode history for job %s: %w", id, err)
		}
	}
	if bestAccuracy.Valid {
		job.BestAccuracy = &bestAccuracy.Float64
	}
	if errText.Valid {
		job.Error = errText.String
	}
	if totalTime.Valid {
		job.TotalTime = &totalTime.Float64
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

// SaveJob writes through the mutable job fields and the metric history
func (r *JobRepository) SaveJob(ctx context.Context, job *models.Job) error {
	historyJSON, err := json.Marshal(job.History)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			status = $1, epochs_completed = $2, best_accuracy = $3,
			error = $4, total_time = $5, history = $6,
			started_at = $7, completed_at = $8
		WHERE job_id = $9
	`

	_, err = r.db.ExecContext(ctx, query,
		job.Status,
		job.EpochsCompleted,
		job.BestAccuracy,
		nullIfEmpty(job.Error),
		job.TotalTime,
		historyJSON,
		job.StartedAt,
		job.CompletedAt,
		job.ID,
	)
	return err
}

// DeleteJob removes a job row irrevocably
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, id)
	return err
}

// ListJobs lists jobs, optionally filtered by experiment
func (r *JobRepository) ListJobs(ctx context.Context, experimentID *int64) ([]*models.Job, error) {
	query := `
		SELECT job_id, experiment_id, name, status, parameters,
			epochs_completed, best_accuracy, error, total_time, history,
			created_at, started_at, completed_at
		FROM jobs
	`
	args := []any{}
	if experimentID != nil {
		query += ` WHERE experiment_id = $1`
		args = append(args, *experimentID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var paramsJSON, historyJSON []byte
		var bestAccuracy sql.NullFloat64
		var errText sql.NullString
		var totalTime sql.NullFloat64
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&job.ID,
			&job.ExperimentID,
			&job.Name,
			&job.Status,
			&paramsJSON,
			&job.EpochsCompleted,
			&bestAccuracy,
			&errText,
			&totalTime,
			&historyJSON,
			&job.CreatedAt,
			&startedAt,
			&completedAt,
		)
		if err != nil {
			return nil, err
		}

		if !decodeJobColumns(&job, paramsJSON, historyJSON) {
			continue
		}
		if bestAccuracy.Valid {
			job.BestAccuracy = &bestAccuracy.Float64
		}
		if errText.Valid {
			job.Error = errText.String
		}
		if totalTime.Valid {
			job.TotalTime = &totalTime.Float64
		}
		if startedAt.Valid {
			job.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}

		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// decodeJobColumns fills the JSON-encoded columns of a scanned job row.
// Returns false when the parameters are undecodable and the row is unusable;
// corrupt rows are logged, never silently dropped. A corrupt history is
// logged and left empty since the rest of the row is still meaningful.
func decodeJobColumns(job *models.Job, paramsJSON, historyJSON []byte) bool {
	if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
		slog.Warn("skipping job row with undecodable parameters",
			"job_id", job.ID, "error", err)
		return false
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &job.History); err != nil {
			slog.Warn("job row has undecodable history, starting empty",
				"job_id", job.ID, "error", err)
		}
	}
	return true
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
