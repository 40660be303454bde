package domain

// UpdateSource records which ingress path produced a provider update.
type UpdateSource string

const (
	UpdateSourceWebhook UpdateSource = "webhook"
	UpdateSourcePoll    UpdateSource = "poll"
)

// ProviderUpdate is a provider status event normalized into the job status enum.
// Adapters build it from webhook payloads or status polls; nothing downstream sees
// provider-specific wire formats.
type ProviderUpdate struct {
	Provider      string
	ProviderJobID string
	Status        JobStatus
	Outputs       []string
	Error         *JobError
	Fingerprint   string
	Source        UpdateSource
}
