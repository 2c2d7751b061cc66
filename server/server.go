package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docgen/models"
	"docgen/store"
	"docgen/worker"
)

// Server is the boundary API over the conversion pool and result store.
type Server struct {
	pool      *worker.Pool
	results   *store.ResultStore
	registry  *prometheus.Registry
	maxUpload int64
	startedAt time.Time
}

func New(pool *worker.Pool, results *store.ResultStore, registry *prometheus.Registry, maxUpload int64) *Server {
	return &Server{
		pool:      pool,
		results:   results,
		registry:  registry,
		maxUpload: maxUpload,
		startedAt: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleSubmit)
	mux.HandleFunc("GET /convert/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /convert/{id}", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

type submitResponse struct {
	JobID string          `json:"jobId"`
	State models.JobState `json:"state"`
}

type statusResponse struct {
	JobID       string          `json:"jobId"`
	State       models.JobState `json:"state"`
	Target      string          `json:"targetFormat"`
	Attempts    int             `json:"attempts,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       *models.Failure `json:"error,omitempty"`
}

type errorResponse struct {
	Error string             `json:"error"`
	Kind  models.FailureKind `json:"kind,omitempty"`
}

// handleSubmit accepts a multipart upload ("file" + "format") and enqueues a
// conversion. 202 on admission, 429 when the pool is saturated.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", s.maxUpload), "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", "")
		return
	}
	defer file.Close()

	format := r.FormValue("format")
	if !models.ValidTargetFormat(format) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported target format %q", format), "")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read upload", "")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded document is empty", "")
		return
	}

	job := models.NewConversionJob(header.Filename, header.Header.Get("Content-Type"), format, data)
	if err := s.pool.Submit(job); err != nil {
		f := models.FailureOf(err)
		if f.Kind == models.FailureOverloaded {
			writeError(w, http.StatusTooManyRequests, f.Message, f.Kind)
			return
		}
		slog.Error("job submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed", f.Kind)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, State: models.StateQueued})
}

// handleStatus reports job state. A succeeded job answers with the artifact
// itself; everything else answers with state JSON. Unknown or expired ids
// are 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, ok := s.results.Get(id)
	if !ok {
		// Not terminal yet? The pool still owns it.
		job, ok = s.pool.Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown or expired job id", models.FailureNotFound)
			return
		}
	}

	if job.State == models.StateSucceeded {
		art := job.Artifact
		data := art.Bytes()
		w.Header().Set("Content-Type", art.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", id+"."+models.FormatExtension(job.TargetFormat)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		JobID:       job.ID,
		State:       job.State,
		Target:      job.TargetFormat,
		Attempts:    job.Attempts,
		SubmittedAt: job.SubmittedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Failure,
	})
}

// handleCancel requests cancellation. Jobs the pool still owns get the
// cancel signal (202); already-terminal jobs report their final state (409);
// unknown ids are 404.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.pool.Cancel(id) {
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, State: models.StateCancelled})
		return
	}

	if job, ok := s.results.Get(id); ok {
		writeJSON(w, http.StatusConflict, statusResponse{
			JobID:       job.ID,
			State:       job.State,
			Target:      job.TargetFormat,
			SubmittedAt: job.SubmittedAt,
			CompletedAt: job.CompletedAt,
			Error:       job.Failure,
		})
		return
	}

	writeError(w, http.StatusNotFound, "unknown or expired job id", models.FailureNotFound)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Retained  int       `json:"retainedResults"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Retained:  s.results.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, kind models.FailureKind) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
