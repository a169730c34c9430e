package repository

import (
	"context"
	"encoding/json"
	"time"
)

// ArtifactType represents the type of job artifact
type ArtifactType string

const (
	ArtifactTypeCheckpoint ArtifactType = "checkpoint"
	ArtifactTypeLog        ArtifactType = "log"
)

// JobArtifact represents a stored artifact reference for a job
type JobArtifact struct {
	ID        int64
	JobID     string
	Type      ArtifactType
	URI       string
	CreatedAt time.Time
	Meta      map[string]any
}

// ArtifactRepository handles database operations for job artifacts
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// CreateArtifact records a new artifact reference
func (r *ArtifactRepository) CreateArtifact(ctx context.Context, jobID string, artifactType ArtifactType, uri string, meta map[string]any) error {
	metaJSON := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}

	query := `
		INSERT INTO job_artifacts (job_id, type, uri, meta_json, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.ExecContext(ctx, query, jobID, artifactType, uri, metaJSON)
	return err
}

// GetJobArtifacts retrieves artifacts for a job, newest first
func (r *ArtifactRepository) GetJobArtifacts(ctx context.Context, jobID string, artifactType *ArtifactType) ([]JobArtifact, error) {
	query := `
		SELECT id, job_id, type, uri, created_at, meta_json
		FROM job_artifacts
		WHERE job_id = $1
	`
	args := []any{jobID}
	if artifactType != nil {
		query += ` AND type = $2`
		args = append(args, *artifactType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []JobArtifact
	for rows.Next() {
		var artifact JobArtifact
		var metaJSON string

		err := rows.Scan(
			&artifact.ID,
			&artifact.JobID,
			&artifact.Type,
			&artifact.URI,
			&artifact.CreatedAt,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &artifact.Meta)
		}

		artifacts = append(artifacts, artifact)
	}

	return artifacts, rows.Err()
}

// DeleteJobArtifacts removes all artifact rows for a job
func (r *ArtifactRepository) DeleteJobArtifacts(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_artifacts WHERE job_id = $1`, jobID)
	return err
}
