// Package storage tracks model checkpoint artifacts for jobs.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"experiment-tracker/core/repository"
)

// CheckpointManager records the best-model checkpoint reference whenever a
// job's validation accuracy improves.
type CheckpointManager struct {
	artifacts *repository.ArtifactRepository
	log       *slog.Logger
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(artifacts *repository.ArtifactRepository, log *slog.Logger) *CheckpointManager {
	if log == nil {
		log = slog.Default()
	}
	return &CheckpointManager{artifacts: artifacts, log: log}
}

// RecordBestModel stores the best-model artifact URI for a job
func (cm *CheckpointManager) RecordBestModel(ctx context.Context, jobID string, accuracy float64) error {
	uri := fmt.Sprintf("models/%s_best_model.pt", jobID)
	meta := map[string]any{"val_accuracy": accuracy}

	if err := cm.artifacts.CreateArtifact(ctx, jobID, repository.ArtifactTypeCheckpoint, uri, meta); err != nil {
		return err
	}

	cm.log.Debug("recorded best model checkpoint", "job_id", jobID, "val_accuracy", accuracy)
	return nil
}

// BestModelURI returns the most recent best-model checkpoint URI for a job
func (cm *CheckpointManager) BestModelURI(ctx context.Context, jobID string) (string, error) {
	checkpointType := repository.ArtifactTypeCheckpoint
	artifacts, err := cm.artifacts.GetJobArtifacts(ctx, jobID, &checkpointType)
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", fmt.Errorf("no checkpoint found for job %s", jobID)
	}
	return artifacts[0].URI, nil
}
