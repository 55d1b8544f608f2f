package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/models"
	"github.com/mvirta/mobwatch/internal/runner"
)

type JobHandler struct {
	runner *runner.Runner
	logger zerolog.Logger
}

func NewJobHandler(r *runner.Runner, logger zerolog.Logger) *JobHandler {
	return &JobHandler{runner: r, logger: logger}
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VideoURL string `json:"video_url"`
		ModelID  int64  `json:"model_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.VideoURL == "" {
		http.Error(w, "video_url is required", http.StatusBadRequest)
		return
	}

	job := h.runner.Enqueue(payload.VideoURL, payload.ModelID)
	h.logger.Info().Int("job", job.ID).Str("video", job.VideoURL).Msg("Job enqueued")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.runner.List())
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, found := h.runner.Get(id)
	if !found {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// DeleteJob cancels a job: a waiting job is marked cancelled, the currently
// executing one is signalled. Anything else is already past cancelling.
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if _, found := h.runner.Get(id); !found {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !h.runner.CancelJob(id) {
		http.Error(w, "Job is not cancellable", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
}

// GetJobLogs always answers 200 with the log bytes, empty when the job is
// unknown.
func (h *JobHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	logs, _ := h.runner.Logs(id)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(logs)
}

func (h *JobHandler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, found := h.runner.Get(id)
	if !found || job.Status != models.JobFinished || job.ResultPath == "" {
		http.Error(w, "Result not ready", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(job.ResultPath); err != nil {
		http.Error(w, "Result not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, job.ResultPath)
}

func jobID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "ID is not numeric", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
