package jobqueue

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/triage/pkg/model"
)

// NewHTTPHandler exposes the job store and runner over a small
// status/submit API. The full report/UI surface lives with the external
// collaborator; this endpoint only covers job orchestration.
func NewHTTPHandler(runner *Runner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		jobs, err := runner.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, err := runner.store.Get(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Workflow model.WorkflowKind `json:"workflow"`
			Input    map[string]any     `json:"input"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := runner.Submit(body.Workflow, body.Input)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// The run outlives the HTTP request.
		go func() {
			_, _ = runner.Run(context.Background(), job.ID)
		}()
		writeJSON(w, http.StatusAccepted, job)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
