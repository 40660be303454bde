package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"genorch/internal/domain"
	"genorch/internal/engine"
	"genorch/internal/obs"
	"genorch/internal/providers"
)

const maxInputRefs = 4

// SubmitRequest is a validated-at-entry generation request.
type SubmitRequest struct {
	OwnerID    string
	ProjectID  string
	Mode       string
	Quality    string
	UseKontext bool
	Prompt     string
	InputRefs  []string
}

func (r SubmitRequest) validate(spec engine.Spec) error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return domain.InvalidRequestf("owner is required")
	}
	if len(r.InputRefs) > maxInputRefs {
		return domain.InvalidRequestf("at most %d input images are accepted", maxInputRefs)
	}
	for _, ref := range r.InputRefs {
		if !strings.HasPrefix(ref, "https://") && !strings.HasPrefix(ref, "http://") {
			return domain.InvalidRequestf("input %q is not an http(s) url", ref)
		}
	}
	switch spec.Engine {
	case domain.EngineEdit, domain.EngineKontext, domain.EngineUpscale:
		if len(r.InputRefs) == 0 {
			return domain.InvalidRequestf("engine %s requires an input image", spec.Engine)
		}
	}
	if spec.Engine != domain.EngineUpscale && strings.TrimSpace(r.Prompt) == "" {
		return domain.InvalidRequestf("prompt is required")
	}
	return nil
}

// Submit bills, records and starts one generation job. A job is only returned once its
// provider accepted it; every failure after a debit refunds before returning.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *domain.Job, err error) {
	ctx, span := obs.StartSpan(ctx, "orchestrator.Submit", attribute.String("owner_id", req.OwnerID))
	defer func() { obs.EndSpan(span, err) }()

	spec, err := engine.Resolve(req.Mode, req.Quality, req.UseKontext)
	if err != nil {
		obs.RecordSubmission("unknown", "invalid")
		return nil, err
	}
	if err := req.validate(spec); err != nil {
		obs.RecordSubmission(string(spec.Engine), "invalid")
		return nil, err
	}
	policy, ok := s.billing.policy(spec.Engine)
	if !ok {
		return nil, fmt.Errorf("no billing policy for engine %s", spec.Engine)
	}

	jobID := s.newID()
	period := s.ledger.CurrentPeriod()
	pool, addonID, err := s.charge(ctx, jobID, req.OwnerID, period, spec.Credits, policy)
	if err != nil {
		obs.RecordSubmission(string(spec.Engine), resultLabel(err))
		return nil, err
	}

	log := s.logger.With().Str("job_id", jobID).Str("owner_id", req.OwnerID).Str("engine", string(spec.Engine)).Logger()
	job := &domain.Job{
		ID:         jobID,
		OwnerID:    req.OwnerID,
		ProjectID:  req.ProjectID,
		Engine:     spec.Engine,
		Provider:   spec.Provider,
		Model:      spec.Model,
		Status:     domain.JobStatusPending,
		InputRefs:  append([]string(nil), req.InputRefs...),
		Prompt:     strings.TrimSpace(req.Prompt),
		Cost:       spec.Credits,
		CreditPool: pool,
		Period:     period,
		AddonID:    addonID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.refundUnstarted(ctx, jobID, pool, log)
		obs.RecordSubmission(string(spec.Engine), "error")
		return nil, fmt.Errorf("create job: %w", err)
	}

	adapter, err := s.providers.Get(spec.Provider)
	if err == nil {
		var providerJobID string
		providerJobID, err = adapter.StartJob(ctx, providers.StartRequest{
			JobID:      jobID,
			Model:      spec.Model,
			Prompt:     job.Prompt,
			InputRefs:  job.InputRefs,
			WebhookURL: s.webhookURL(spec.Provider),
		})
		if err == nil {
			return s.markStarted(ctx, job, adapter, providerJobID, log)
		}
	}

	log.Warn().Err(err).Str("provider", spec.Provider).Msg("provider start failed")
	s.failUnstarted(ctx, job, &domain.JobError{Code: "provider_start_failed", Message: err.Error()}, log)
	obs.RecordSubmission(string(spec.Engine), "provider_start_failed")
	return nil, fmt.Errorf("%w: %v", domain.ErrProviderStartFailed, err)
}

func (s *Service) markStarted(ctx context.Context, job *domain.Job, adapter providers.Adapter, providerJobID string, log zerolog.Logger) (*domain.Job, error) {
	ok, err := s.jobs.MarkProcessing(ctx, job.ID, providerJobID, s.now().UTC())
	if err == nil && !ok {
		err = fmt.Errorf("%w: job %s left pending", domain.ErrIllegalTransition, job.ID)
	}
	if err != nil {
		// The remote job cannot be reconciled without its id on record.
		log.Error().Err(err).Str("provider_job_id", providerJobID).Msg("mark processing failed")
		cctx, cancel := sideEffectContext(ctx)
		if cerr := adapter.Cancel(cctx, providers.JobRef{ProviderJobID: providerJobID, Model: job.Model}); cerr != nil {
			log.Warn().Err(cerr).Msg("remote cancel failed")
		}
		cancel()
		s.failUnstarted(ctx, job, &domain.JobError{Code: "provider_start_failed", Message: "job could not be recorded as started"}, log)
		obs.RecordSubmission(string(job.Engine), "error")
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderStartFailed, err)
	}
	obs.RecordSubmission(string(job.Engine), "accepted")
	log.Info().Str("provider", job.Provider).Str("provider_job_id", providerJobID).Str("pool", string(job.CreditPool)).Msg("job started")
	return s.jobs.GetByID(ctx, job.ID)
}

// charge walks the engine's pools in order and falls back to a paid addon. It never leaves a
// debit behind when it returns an error.
func (s *Service) charge(ctx context.Context, jobID, ownerID, period string, amount int, policy PoolPolicy) (domain.CreditPool, string, error) {
	for _, pool := range policy.Pools {
		var (
			ok  bool
			err error
		)
		switch pool {
		case domain.CreditPoolStandard:
			ok, err = s.ledger.DebitStandard(ctx, jobID, ownerID, period, amount)
		case domain.CreditPoolPremium:
			ok, err = s.ledger.DebitPremiumIncluded(ctx, jobID, ownerID, period, amount)
		}
		if err != nil {
			return "", "", err
		}
		if ok {
			return pool, "", nil
		}
	}
	if policy.Addon == "" {
		return "", "", domain.ErrQuotaExceeded
	}
	addon, err := s.ledger.RequireAddonPayment(ctx, ownerID, policy.Addon, jobID)
	if err != nil {
		return "", "", err
	}
	return domain.CreditPoolAddon, addon.ID, nil
}

func (s *Service) refundUnstarted(ctx context.Context, jobID string, pool domain.CreditPool, log zerolog.Logger) {
	cctx, cancel := sideEffectContext(ctx)
	defer cancel()
	if _, err := s.ledger.Refund(cctx, jobID, pool); err != nil {
		log.Error().Err(err).Str("pool", string(pool)).Msg("refund failed")
	}
}

// failUnstarted finalizes a job that never reached a provider and returns its credits.
func (s *Service) failUnstarted(ctx context.Context, job *domain.Job, jobErr *domain.JobError, log zerolog.Logger) {
	cctx, cancel := sideEffectContext(ctx)
	defer cancel()
	if _, _, err := s.finish(cctx, job.ID, domain.JobStatusFailed, nil, jobErr, domain.UpdateSource("submit")); err != nil {
		log.Error().Err(err).Msg("finalize unstarted job failed")
		s.refundUnstarted(cctx, job.ID, job.CreditPool, log)
	}
}

func resultLabel(err error) string {
	var pr *domain.PaymentRequiredError
	switch {
	case errors.As(err, &pr):
		return "payment_required"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}

// Cancel cancels a job on behalf of its owner. Local state wins: the job is canceled and
// refunded even if the provider cannot be reached. Canceling a terminal job returns it
// unchanged.
func (s *Service) Cancel(ctx context.Context, jobID, requester string) (*domain.Job, error) {
	job, err := s.ownedJob(ctx, jobID, requester)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	finished, won, err := s.finish(ctx, job.ID, domain.JobStatusCanceled, nil, nil, domain.UpdateSource("user"))
	if err != nil {
		return nil, err
	}
	if won && finished.ProviderJobID != "" {
		if adapter, aerr := s.providers.Get(finished.Provider); aerr == nil {
			cctx, cancel := sideEffectContext(ctx)
			if cerr := adapter.Cancel(cctx, providers.JobRef{ProviderJobID: finished.ProviderJobID, Model: finished.Model}); cerr != nil {
				s.logger.Warn().Err(cerr).Str("job_id", job.ID).Str("provider", finished.Provider).Msg("remote cancel failed; local cancel stands")
			}
			cancel()
		}
	}
	return finished, nil
}

// GetJob returns a job to its owner. A processing job that has outlived its engine's
// estimate is polled first so clients see progress without relying on webhooks.
func (s *Service) GetJob(ctx context.Context, jobID, requester string) (*domain.Job, error) {
	job, err := s.ownedJob(ctx, jobID, requester)
	if err != nil {
		return nil, err
	}
	if !s.stale(job, s.now()) {
		return job, nil
	}
	if err := s.poll(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("provider", job.Provider).Msg("status poll failed")
		return job, nil
	}
	return s.jobs.GetByID(ctx, job.ID)
}

func (s *Service) ownedJob(ctx context.Context, jobID, requester string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Owned(requester) {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// stale reports whether a processing job has run longer than its estimate times the
// configured factor.
func (s *Service) stale(job *domain.Job, now time.Time) bool {
	if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
		return false
	}
	return now.Sub(*job.StartedAt) > s.staleAfter(job.Engine)
}

func (s *Service) staleAfter(e domain.Engine) time.Duration {
	est := 30
	if spec, ok := engine.Lookup(e); ok {
		est = spec.EstimatedSeconds
	}
	return time.Duration(float64(est) * s.staleFactor * float64(time.Second))
}

// poll fetches the provider's view of job and feeds it through ApplyProviderUpdate.
func (s *Service) poll(ctx context.Context, job *domain.Job) error {
	adapter, err := s.providers.Get(job.Provider)
	if err != nil {
		return err
	}
	update, err := adapter.GetStatus(ctx, providers.JobRef{ProviderJobID: job.ProviderJobID, Model: job.Model})
	if err != nil {
		return err
	}
	update.Provider = job.Provider
	update.ProviderJobID = job.ProviderJobID
	update.Source = domain.UpdateSourcePoll
	_, err = s.ApplyProviderUpdate(ctx, update)
	return err
}
