package repository

import (
	"context"

	"experiment-tracker/core/models"
)

// Persistence bundles the repositories behind the narrow interface the job
// store writes through.
type Persistence struct {
	Jobs        *JobRepository
	Experiments *ExperimentRepository
	Artifacts   *ArtifactRepository
}

// NewPersistence creates the repository bundle over one connection pool
func NewPersistence(db *DB) *Persistence {
	return &Persistence{
		Jobs:        NewJobRepository(db),
		Experiments: NewExperimentRepository(db),
		Artifacts:   NewArtifactRepository(db),
	}
}

func (p *Persistence) ExperimentExists(ctx context.Context, id int64) (bool, error) {
	return p.Experiments.ExperimentExists(ctx, id)
}

func (p *Persistence) CreateJob(ctx context.Context, job *models.Job) error {
	return p.Jobs.CreateJob(ctx, job)
}

func (p *Persistence) SaveJob(ctx context.Context, job *models.Job) error {
	return p.Jobs.SaveJob(ctx, job)
}

func (p *Persistence) DeleteJob(ctx context.Context, id string) error {
	if err := p.Artifacts.DeleteJobArtifacts(ctx, id); err != nil {
		return err
	}
	return p.Jobs.DeleteJob(ctx, id)
}

func (p *Persistence) ListJobs(ctx context.Context, experimentID *int64) ([]*models.Job, error) {
	return p.Jobs.ListJobs(ctx, experimentID)
}
