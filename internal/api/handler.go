// Package api provides the HTTP API handlers and routing for the writerctl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"writerctl/internal/apperrors"
	"writerctl/internal/bus"
	"writerctl/internal/controller"
	"writerctl/internal/health"
	"writerctl/internal/monitor"
	"writerctl/internal/registry"
	"writerctl/internal/scan"
	"writerctl/pkg/cloudevent"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// JobController is the part of the write controller exposed over HTTP.
type JobController interface {
	StartJob(ctx context.Context, req controller.StartRequest) (controller.StartResult, error)
	StopJob(ctx context.Context, id string) (controller.StopResult, error)
	ActiveJobs() []string
	Jobs() []registry.Job
	Job(id string) (registry.Job, error)
}

// StatusSource exposes the aggregate status.
type StatusSource interface {
	Status() monitor.Status
}

// Ingress receives writer events for the status consumer.
type Ingress struct {
	Publisher    bus.Publisher
	DefaultTopic string
	SigningKey   string // verify X-Signature-256 when set
}

// Handler contains HTTP handlers for the writerctl API
type Handler struct {
	jobs    JobController
	scan    *scan.Binding
	status  StatusSource
	health  *health.Checker
	ingress Ingress
}

// NewHandler creates a new API handler
func NewHandler(jobs JobController, binding *scan.Binding, status StatusSource, healthChecker *health.Checker, ingress Ingress) *Handler {
	return &Handler{
		jobs:    jobs,
		scan:    binding,
		status:  status,
		health:  healthChecker,
		ingress: ingress,
	}
}

// JobList is the registry snapshot returned by GET /v1/jobs.
type JobList struct {
	Jobs   []registry.Job `json:"jobs"`
	Active []string       `json:"active"`
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req controller.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.jobs.StartJob(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	resp := JobList{Jobs: h.jobs.Jobs(), Active: h.jobs.ActiveJobs()}
	if resp.Jobs == nil {
		resp.Jobs = []registry.Job{}
	}
	if resp.Active == nil {
		resp.Active = []string{}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobs.Job(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}
	h.stop(w, r, jobID)
}

// StopActiveJob handles DELETE /v1/jobs - stops the only active job.
func (h *Handler) StopActiveJob(w http.ResponseWriter, r *http.Request) {
	h.stop(w, r, "")
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request, jobID string) {
	res, err := h.jobs.StopJob(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// BeginDataset handles POST /v1/datasets/begin
func (h *Handler) BeginDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.decodeDataset(w, r)
	if !ok {
		return
	}
	if err := h.scan.Prepare(ds); err != nil {
		h.handleError(w, r, err)
		return
	}
	out, err := h.scan.Begin(r.Context(), ds)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// EndDataset handles POST /v1/datasets/end
func (h *Handler) EndDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.decodeDataset(w, r)
	if !ok {
		return
	}
	out, err := h.scan.End(r.Context(), ds)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// AbortScan handles POST /v1/datasets/abort
func (h *Handler) AbortScan(w http.ResponseWriter, r *http.Request) {
	out, err := h.scan.Abort(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) decodeDataset(w http.ResponseWriter, r *http.Request) (scan.Dataset, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var ds scan.Dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return ds, false
	}
	return ds, true
}

// Status handles GET /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Status())
}

// IngestEvent handles POST /internal/events - publishes a writer CloudEvent on
// the bus for the status consumer.
// Query params: topic (optional, defaults to the first consumed topic)
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.ingress.Publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "event ingress not configured")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = h.ingress.DefaultTopic
	}
	if topic == "" {
		h.writeError(w, http.StatusBadRequest, "topic parameter is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if h.ingress.SigningKey != "" && !cloudevent.Verify(body, r.Header.Get("X-Signature-256"), h.ingress.SigningKey) {
		h.writeError(w, http.StatusUnauthorized, "invalid event signature")
		return
	}

	// Only the envelope is checked here; payload problems are counted by the consumer
	if _, err := cloudevent.Parse(body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid CloudEvent: "+err.Error())
		return
	}

	if err := h.ingress.Publisher.Publish(r.Context(), topic, body); err != nil {
		if errors.Is(err, bus.ErrBufferFull) || errors.Is(err, bus.ErrClosed) {
			slog.Warn("Event not accepted by bus", "topic", topic, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the file writer is unreachable or the service is shutting
// down. A degraded job status still answers 200.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.Serving() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the controller with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
