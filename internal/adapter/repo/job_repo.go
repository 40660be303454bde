package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	inputs, err := json.Marshal(nonNil(job.InputRefs))
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.ProjectID,
		string(job.Engine),
		job.Provider,
		job.Model,
		string(job.Status),
		job.ProviderJobID,
		inputs,
		job.Prompt,
		job.Cost,
		string(job.CreditPool),
		job.Period,
		job.AddonID,
		job.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
}

// GetByProviderJobID resolves the job a provider-side id belongs to.
func (r *JobRepositoryPG) GetByProviderJobID(ctx context.Context, provider, providerJobID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByProviderJobID, provider, providerJobID))
}

// MarkProcessing moves a pending job to processing and records its provider id once.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID, providerJobID string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobProcessing, jobID, providerJobID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finish applies a terminal transition if the job is still in one of the legal source
// statuses. When the guard fails it returns the job as currently stored and false.
func (r *JobRepositoryPG) Finish(ctx context.Context, jobID string, to domain.JobStatus, outputs []string, jobErr *domain.JobError, at time.Time) (*domain.Job, bool, error) {
	if !to.Terminal() {
		return nil, false, fmt.Errorf("%w: %s is not terminal", domain.ErrIllegalTransition, to)
	}
	var outJSON, errJSON []byte
	var err error
	if to == domain.JobStatusSucceeded {
		if outJSON, err = json.Marshal(nonNil(outputs)); err != nil {
			return nil, false, err
		}
	}
	if to == domain.JobStatusFailed && jobErr != nil {
		if errJSON, err = json.Marshal(jobErr); err != nil {
			return nil, false, err
		}
	}
	sources := make([]string, 0, 2)
	for _, s := range domain.TransitionSources(to) {
		sources = append(sources, string(s))
	}

	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QFinishJob, jobID, string(to), outJSON, errJSON, at, sources))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	current, err := r.GetByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ListProcessing returns processing jobs started before the cutoff, oldest first.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListStaleProcessingJobs, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                domain.Job
		engine, status     string
		pool               string
		inputs, outputs    []byte
		errJSON            []byte
		started, completed *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ProjectID,
		&engine,
		&job.Provider,
		&job.Model,
		&status,
		&job.ProviderJobID,
		&inputs,
		&job.Prompt,
		&outputs,
		&job.Cost,
		&pool,
		&job.Period,
		&job.AddonID,
		&errJSON,
		&job.CreatedAt,
		&started,
		&completed,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Engine = domain.Engine(engine)
	job.Status = domain.JobStatus(status)
	job.CreditPool = domain.CreditPool(pool)
	job.StartedAt = started
	job.CompletedAt = completed
	if err := json.Unmarshal(inputs, &job.InputRefs); err != nil {
		return nil, fmt.Errorf("decode input_refs: %w", err)
	}
	if err := json.Unmarshal(outputs, &job.OutputRefs); err != nil {
		return nil, fmt.Errorf("decode output_refs: %w", err)
	}
	if len(errJSON) > 0 {
		var jobErr domain.JobError
		if err := json.Unmarshal(errJSON, &jobErr); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		job.Error = &jobErr
	}
	return &job, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
