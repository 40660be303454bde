package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genorch/internal/domain"
	"genorch/internal/orchestrator"
)

type generationRequest struct {
	ProjectID  string   `json:"project_id"`
	Mode       string   `json:"mode"`
	Quality    string   `json:"quality"`
	UseKontext bool     `json:"use_kontext"`
	Prompt     string   `json:"prompt"`
	InputRefs  []string `json:"input_refs"`
}

func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req generationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Mode == "" {
		req.Mode = "generate"
	}
	job, err := a.Orchestrator.Submit(r.Context(), orchestrator.SubmitRequest{
		OwnerID:    userID,
		ProjectID:  req.ProjectID,
		Mode:       req.Mode,
		Quality:    req.Quality,
		UseKontext: req.UseKontext,
		Prompt:     req.Prompt,
		InputRefs:  req.InputRefs,
	})
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobDTO(job, nil))
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	job, err := a.Orchestrator.GetJob(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	var assets []domain.Asset
	if job.Status == domain.JobStatusSucceeded && a.Assets != nil {
		assets, err = a.Assets.ListByJobID(r.Context(), job.ID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("list assets failed")
		}
	}
	a.json(w, http.StatusOK, toJobDTO(job, assets))
}

func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	job, err := a.Orchestrator.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobDTO(job, nil))
}
