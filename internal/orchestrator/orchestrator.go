// Package orchestrator runs the generation job lifecycle: billing a request, starting it on
// a provider, and reconciling provider updates into exactly one terminal state. Only the
// caller that wins a job's terminal transition performs its side effects.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/events"
	"genorch/internal/ledger"
	"genorch/internal/providers"
)

// Materializer copies a succeeded job's outputs into durable storage.
type Materializer interface {
	Materialize(ctx context.Context, job *domain.Job) ([]domain.Asset, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Jobs         domain.JobRepository
	Events       domain.EventLog
	Assets       domain.AssetRepository
	Ledger       *ledger.Service
	Providers    *providers.Registry
	Materializer Materializer
	Publisher    events.Publisher
	Logger       zerolog.Logger
}

type Options struct {
	Billing         Billing
	PollStaleFactor float64
	WebhookBaseURL  string
	JobTimeout      time.Duration
	Now             func() time.Time
	NewID           func() string
}

type Service struct {
	jobs         domain.JobRepository
	events       domain.EventLog
	assets       domain.AssetRepository
	ledger       *ledger.Service
	providers    *providers.Registry
	materializer Materializer
	publisher    events.Publisher
	logger       zerolog.Logger

	billing        Billing
	staleFactor    float64
	webhookBaseURL string
	jobTimeout     time.Duration
	now            func() time.Time
	newID          func() string
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Jobs == nil || deps.Ledger == nil || deps.Providers == nil {
		return nil, errors.New("orchestrator: jobs, ledger and providers are required")
	}
	if opts.Billing == nil {
		opts.Billing = DefaultBilling()
	}
	if err := opts.Billing.Validate(); err != nil {
		return nil, err
	}
	if opts.PollStaleFactor < 1 {
		opts.PollStaleFactor = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Service{
		jobs:           deps.Jobs,
		events:         deps.Events,
		assets:         deps.Assets,
		ledger:         deps.Ledger,
		providers:      deps.Providers,
		materializer:   deps.Materializer,
		publisher:      deps.Publisher,
		logger:         deps.Logger,
		billing:        opts.Billing,
		staleFactor:    opts.PollStaleFactor,
		webhookBaseURL: strings.TrimRight(strings.TrimSpace(opts.WebhookBaseURL), "/"),
		jobTimeout:     opts.JobTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
	}, nil
}

// webhookURL is where provider of a job delivers its callbacks. Without a public base URL
// jobs are reconciled by polling only.
func (s *Service) webhookURL(provider string) string {
	if s.webhookBaseURL == "" {
		return ""
	}
	return s.webhookBaseURL + "/v1/webhooks/providers/" + provider
}

// sideEffectContext keeps post-transition work alive after the triggering request ends.
func sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
}
