package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"genorch/internal/domain"
	"genorch/pkg/zip"
)

// ArchiveGeneration streams every stored asset of a succeeded job as one zip download.
func (a *App) ArchiveGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	job, err := a.Orchestrator.GetJob(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if job.Status != domain.JobStatusSucceeded {
		a.error(w, http.StatusConflict, "not_ready", "job has no stored outputs")
		return
	}
	if a.Files == nil || a.Assets == nil {
		a.error(w, http.StatusNotImplemented, "unsupported", "asset archive is not available")
		return
	}
	assets, err := a.Assets.ListByJobID(r.Context(), job.ID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}

	entries := make([]zip.Entry, 0, len(assets))
	for _, asset := range assets {
		key := asset.StorageKey
		entries = append(entries, zip.Entry{
			Name:     job.ID + "-" + path.Base(key),
			Modified: asset.CreatedAt,
			Open:     func() (io.ReadCloser, error) { return a.Files.Open(key) },
		})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, entries); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("archive stream failed")
	}
}
