package handlers

import (
	"time"

	"genorch/internal/domain"
)

type jobDTO struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"owner_id"`
	ProjectID     string           `json:"project_id,omitempty"`
	Engine        domain.Engine    `json:"engine"`
	Provider      string           `json:"provider"`
	Model         string           `json:"model"`
	Status        domain.JobStatus `json:"status"`
	ProviderJobID string           `json:"provider_job_id,omitempty"`
	Prompt        string           `json:"prompt,omitempty"`
	InputRefs     []string         `json:"input_refs,omitempty"`
	OutputRefs    []string         `json:"output_refs,omitempty"`
	Assets        []assetDTO       `json:"assets,omitempty"`
	Cost          int              `json:"cost"`
	CreditPool    string           `json:"credit_pool"`
	AddonID       string           `json:"addon_id,omitempty"`
	Error         *domain.JobError `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

type assetDTO struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	MIME  string `json:"mime"`
	Bytes int64  `json:"bytes"`
}

type addonDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Display     string `json:"display"`
	LinkedJobID string `json:"linked_job_id,omitempty"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

type paymentRequiredResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Addon   addonDTO `json:"addon"`
}

type creditsDTO struct {
	Period            string `json:"period"`
	Plan              string `json:"plan"`
	StandardLimit     int    `json:"standard_limit"`
	StandardUsed      int    `json:"standard_used"`
	StandardRemaining int    `json:"standard_remaining"`
	PremiumLimit      int    `json:"premium_limit"`
	PremiumUsed       int    `json:"premium_used"`
	PremiumRemaining  int    `json:"premium_remaining"`
}

func toJobDTO(job *domain.Job, assets []domain.Asset) jobDTO {
	dto := jobDTO{
		ID:            job.ID,
		OwnerID:       job.OwnerID,
		ProjectID:     job.ProjectID,
		Engine:        job.Engine,
		Provider:      job.Provider,
		Model:         job.Model,
		Status:        job.Status,
		ProviderJobID: job.ProviderJobID,
		Prompt:        job.Prompt,
		InputRefs:     job.InputRefs,
		OutputRefs:    job.OutputRefs,
		Cost:          job.Cost,
		CreditPool:    string(job.CreditPool),
		AddonID:       job.AddonID,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
	for _, a := range assets {
		dto.Assets = append(dto.Assets, assetDTO{ID: a.ID, URL: a.URL, MIME: a.MIME, Bytes: a.Bytes})
	}
	return dto
}
