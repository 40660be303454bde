package orchestrator

import (
	"context"
	"time"

	"genorch/internal/domain"
	"genorch/internal/engine"
	"genorch/internal/obs"
	"genorch/internal/providers"
)

// JobLocker keeps two workers from reconciling the same job at once.
type JobLocker interface {
	TryLock(ctx context.Context, jobID string, ttl time.Duration) (release func(), ok bool, err error)
}

// Sweeper periodically polls processing jobs whose webhooks never arrived and times out
// jobs the provider has lost track of.
type Sweeper struct {
	svc       *Service
	locker    JobLocker
	interval  time.Duration
	batchSize int
}

func NewSweeper(svc *Service, locker JobLocker, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{svc: svc, locker: locker, interval: interval, batchSize: batchSize}
}

// Run sweeps until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce reconciles one batch of stale jobs and returns how many were examined.
func (w *Sweeper) SweepOnce(ctx context.Context) int {
	now := w.svc.now()
	jobs, err := w.svc.jobs.ListProcessing(ctx, now.Add(-w.minStale()), w.batchSize)
	if err != nil {
		w.svc.logger.Error().Err(err).Msg("list processing jobs failed")
		return 0
	}
	examined := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		if !w.svc.stale(job, now) {
			continue
		}
		examined++
		start := time.Now()
		err := w.sweepJob(ctx, job, now)
		obs.RecordWorkerJob("sweeper", start, err)
		if err != nil {
			w.svc.logger.Warn().Err(err).Str("job_id", job.ID).Str("provider", job.Provider).Msg("sweep job failed")
		}
	}
	return examined
}

func (w *Sweeper) sweepJob(ctx context.Context, job *domain.Job, now time.Time) error {
	if w.locker != nil {
		release, ok, err := w.locker.TryLock(ctx, job.ID, 2*w.interval)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer release()
	}

	if job.StartedAt != nil && now.Sub(*job.StartedAt) > w.svc.jobTimeout {
		return w.timeout(ctx, job)
	}
	return w.svc.poll(ctx, job)
}

// timeout fails a job that outlived the hard limit and asks the provider to stop it.
func (w *Sweeper) timeout(ctx context.Context, job *domain.Job) error {
	finished, won, err := w.svc.finish(ctx, job.ID, domain.JobStatusFailed, nil,
		&domain.JobError{Code: "timeout", Message: "provider did not finish in time"}, domain.UpdateSourcePoll)
	if err != nil || !won {
		return err
	}
	if adapter, err := w.svc.providers.Get(finished.Provider); err == nil {
		if cerr := adapter.Cancel(ctx, providers.JobRef{ProviderJobID: finished.ProviderJobID, Model: finished.Model}); cerr != nil {
			w.svc.logger.Warn().Err(cerr).Str("job_id", job.ID).Msg("remote cancel after timeout failed")
		}
	}
	return nil
}

func (w *Sweeper) minStale() time.Duration {
	var shortest time.Duration
	for _, e := range engine.Engines() {
		d := w.svc.staleAfter(e)
		if shortest == 0 || d < shortest {
			shortest = d
		}
	}
	return shortest
}
