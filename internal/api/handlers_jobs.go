package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"exam-flash/internal/jobs"
)

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeErr(w, r, jobs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or running job. Artifacts a job already
// produced are kept.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
