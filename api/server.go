// Package api exposes the admission surface: job submission, job
// lookup, and windowed metrics over HTTP/JSON.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/birdwatch/id"
	"github.com/xraph/birdwatch/job"
	"github.com/xraph/birdwatch/observer"
	"github.com/xraph/birdwatch/queue"
)

// Server wires HTTP handlers for the admission surface over a Queue and
// Observer.
type Server struct {
	queue                  *queue.Queue
	obs                    *observer.Observer
	defaultMetricsWindowMs int64
}

// New constructs the admission server.
func New(q *queue.Queue, obs *observer.Observer, defaultMetricsWindowMs int64) *Server {
	return &Server{queue: q, obs: obs, defaultMetricsWindowMs: defaultMetricsWindowMs}
}

// Router builds the HTTP router: three endpoints, each request logged
// to the observer before the handler runs.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequest)

	r.Post("/bird", s.handleSubmit)
	r.Get("/bird", s.handleGet)
	r.Get("/metrics", s.handleMetrics)
	return r
}

type submitRequest struct {
	Name any `json:"name"`
}

type birdResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	CreatedAt int64          `json:"createdAt"`
	Body      map[string]any `json:"body,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	name, ok := req.Name.(string)
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, "name is required and must be a string")
		return
	}

	res, err := s.queue.Submit(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	action, severity := observer.ActionJobSubmitted, observer.SeverityLog
	body := map[string]any{"jobId": res.Job.ID, "name": res.Job.Name}
	if res.IsDuplicate {
		status = http.StatusOK
		action = observer.ActionJobDuplicate
		body["currentStatus"] = string(res.Job.Status)
	}
	if _, err := s.obs.Log(r.Context(), action, severity, body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, status, birdResponse{
		ID:        res.Job.ID,
		Name:      res.Job.Name,
		Status:    string(res.Job.Status),
		CreatedAt: res.Job.CreatedAt,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	j, err := s.queue.Get(r.Context(), id.CanonicalJobID(name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil || j.Status != job.StatusCompleted {
		writeError(w, http.StatusNotFound, "job not found or not yet completed")
		return
	}

	writeJSON(w, http.StatusOK, birdResponse{
		ID:        j.ID,
		Name:      j.Name,
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
		Body:      j.Body,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	windowMs := s.defaultMetricsWindowMs
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be an integer number of milliseconds")
			return
		}
		windowMs = parsed
	}

	m, err := s.obs.Metrics(r.Context(), windowMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
