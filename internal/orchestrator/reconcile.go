package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"genorch/internal/domain"
	"genorch/internal/events"
	"genorch/internal/obs"
)

// Outcome reports what ApplyProviderUpdate did with an update.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNotTerminal     Outcome = "not_terminal"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeDuplicate       Outcome = "duplicate"
)

// ApplyProviderUpdate is the single entry point for provider status, whether it came from
// a webhook or a poll. Redelivered and out-of-order updates are acknowledged without effect.
func (s *Service) ApplyProviderUpdate(ctx context.Context, update domain.ProviderUpdate) (outcome Outcome, err error) {
	ctx, span := obs.StartSpan(ctx, "orchestrator.ApplyProviderUpdate",
		attribute.String("provider", update.Provider),
		attribute.String("source", string(update.Source)),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		obs.EndSpan(span, err)
	}()

	if update.Provider == "" || update.ProviderJobID == "" {
		return "", domain.InvalidRequestf("provider and provider job id are required")
	}
	log := s.logger.With().
		Str("provider", update.Provider).
		Str("provider_job_id", update.ProviderJobID).
		Str("status", string(update.Status)).
		Str("source", string(update.Source)).
		Str("fingerprint", update.Fingerprint).
		Logger()

	job, err := s.jobs.GetByProviderJobID(ctx, update.Provider, update.ProviderJobID)
	if err != nil {
		obs.RecordProviderEvent(update.Provider, "unknown_job")
		return "", err
	}
	log = log.With().Str("job_id", job.ID).Logger()

	if job.Status.Terminal() {
		obs.RecordProviderEvent(update.Provider, string(OutcomeAlreadyTerminal))
		log.Info().Str("job_status", string(job.Status)).Msg("update ignored; job already terminal")
		return OutcomeAlreadyTerminal, nil
	}
	if !update.Status.Terminal() {
		obs.RecordProviderEvent(update.Provider, string(OutcomeNotTerminal))
		return OutcomeNotTerminal, nil
	}

	if update.Fingerprint != "" && s.events != nil {
		first, err := s.events.Record(ctx, update.Provider, update.ProviderJobID, update.Fingerprint)
		if err != nil {
			obs.RecordProviderEvent(update.Provider, "error")
			return "", fmt.Errorf("record provider event: %w", err)
		}
		if !first {
			obs.RecordProviderEvent(update.Provider, string(OutcomeDuplicate))
			log.Warn().Msg("duplicate provider event ignored")
			return OutcomeDuplicate, nil
		}
	}

	to, outputs, jobErr := update.Status, update.Outputs, update.Error
	switch to {
	case domain.JobStatusSucceeded:
		if len(outputs) == 0 {
			to, outputs = domain.JobStatusFailed, nil
			jobErr = &domain.JobError{Code: "empty_output", Message: "provider reported success without outputs"}
		}
	case domain.JobStatusFailed:
		if jobErr == nil {
			jobErr = &domain.JobError{Code: "provider_failed", Message: "provider reported failure"}
		}
	}

	_, won, err := s.finish(ctx, job.ID, to, outputs, jobErr, update.Source)
	if err != nil {
		obs.RecordProviderEvent(update.Provider, "error")
		if update.Fingerprint != "" && s.events != nil {
			if ferr := s.events.Forget(context.WithoutCancel(ctx), update.Provider, update.ProviderJobID, update.Fingerprint); ferr != nil {
				log.Error().Err(ferr).Msg("forget provider event failed")
			}
		}
		return "", fmt.Errorf("apply provider update: %w", err)
	}
	if !won {
		obs.RecordProviderEvent(update.Provider, string(OutcomeAlreadyTerminal))
		return OutcomeAlreadyTerminal, nil
	}
	obs.RecordProviderEvent(update.Provider, string(OutcomeApplied))
	return OutcomeApplied, nil
}

// finish applies a terminal transition and, for the single winner, its side effects. A lost
// race is logged as an illegal transition and reported with won == false.
func (s *Service) finish(ctx context.Context, jobID string, to domain.JobStatus, outputs []string, jobErr *domain.JobError, source domain.UpdateSource) (*domain.Job, bool, error) {
	job, won, err := s.jobs.Finish(ctx, jobID, to, outputs, jobErr, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !won {
		s.logger.Info().
			Str("job_id", jobID).
			Str("job_status", string(job.Status)).
			Str("to", string(to)).
			Err(domain.ErrIllegalTransition).
			Msg("transition rejected")
		return job, false, nil
	}
	s.afterFinish(ctx, job, source)
	return job, true, nil
}

// afterFinish runs the side effects owned by the winner of a terminal transition. Failures
// are logged; the transition itself is already durable.
func (s *Service) afterFinish(ctx context.Context, job *domain.Job, source domain.UpdateSource) {
	ctx, cancel := sideEffectContext(ctx)
	defer cancel()
	log := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

	refunded := false
	if job.Status == domain.JobStatusFailed || job.Status == domain.JobStatusCanceled {
		ok, err := s.ledger.Refund(ctx, job.ID, job.CreditPool)
		if err != nil {
			log.Error().Err(err).Str("pool", string(job.CreditPool)).Msg("refund failed")
		}
		refunded = ok
	}

	if job.Status == domain.JobStatusSucceeded && s.materializer != nil {
		assets, err := s.materializer.Materialize(ctx, job)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("materialize outputs failed")
		case s.assets != nil:
			if err := s.assets.SaveAll(ctx, assets); err != nil {
				log.Error().Err(err).Msg("save assets failed")
			}
		}
	}

	obs.RecordFinalization(string(job.Engine), string(job.Status), string(source), job.CreatedAt)
	if err := s.publisher.PublishJobFinalized(ctx, events.NewJobFinalized(job, refunded)); err != nil {
		log.Warn().Err(err).Msg("publish job.finalized failed")
	}
	log.Info().Str("source", string(source)).Bool("refunded", refunded).Msg("job finalized")
}
