package domain

import "time"

// Engine names a quality/mode combination that maps to exactly one provider and model.
type Engine string

const (
	EngineStandard Engine = "standard"
	EngineFast     Engine = "fast"
	EnginePremium  Engine = "premium"
	EngineEdit     Engine = "edit"
	EngineKontext  Engine = "kontext"
	EngineUpscale  Engine = "upscale"
)

// Valid reports whether e is one of the closed set of engines.
func (e Engine) Valid() bool {
	switch e {
	case EngineStandard, EngineFast, EnginePremium, EngineEdit, EngineKontext, EngineUpscale:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// transitionSources lists, for each target status, the statuses a job may move from.
var transitionSources = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusPending},
	JobStatusSucceeded:  {JobStatusPending, JobStatusProcessing},
	JobStatusFailed:     {JobStatusPending, JobStatusProcessing},
	JobStatusCanceled:   {JobStatusPending, JobStatusProcessing},
}

// TransitionSources returns the statuses from which a job may enter to.
func TransitionSources(to JobStatus) []JobStatus {
	src := transitionSources[to]
	out := make([]JobStatus, len(src))
	copy(out, src)
	return out
}

// CanTransition reports whether from -> to is a legal move of the state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// JobError is the structured failure reason recorded on a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is the durable record of one generation request.
type Job struct {
	ID            string
	OwnerID       string
	ProjectID     string
	Engine        Engine
	Provider      string
	Model         string
	Status        JobStatus
	ProviderJobID string
	InputRefs     []string
	Prompt        string
	OutputRefs    []string
	Cost          int
	CreditPool    CreditPool
	Period        string
	AddonID       string
	Error         *JobError
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Owned reports whether the job belongs to ownerID.
func (j *Job) Owned(ownerID string) bool {
	return j != nil && ownerID != "" && j.OwnerID == ownerID
}
