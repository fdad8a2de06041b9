package api

import (
	"net/http"

	"writerctl/internal/health"
	"writerctl/internal/observability"
	"writerctl/internal/scan"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Jobs          JobController
	Scan          *scan.Binding
	Status        StatusSource
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Ingress       Ingress
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Jobs, cfg.Scan, cfg.Status, cfg.HealthChecker, cfg.Ingress)

	mux := http.NewServeMux()

	// Probes - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Writer event ingress - network-isolated, optionally signed
	mux.HandleFunc("POST /internal/events", handler.IngestEvent)

	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.CreateJob)))
	mux.Handle("GET /v1/jobs", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("DELETE /v1/jobs", authMiddleware(http.HandlerFunc(handler.StopActiveJob)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.DeleteJob)))
	mux.Handle("POST /v1/datasets/begin", authMiddleware(http.HandlerFunc(handler.BeginDataset)))
	mux.Handle("POST /v1/datasets/end", authMiddleware(http.HandlerFunc(handler.EndDataset)))
	mux.Handle("POST /v1/datasets/abort", authMiddleware(http.HandlerFunc(handler.AbortScan)))
	mux.Handle("GET /v1/status", authMiddleware(http.HandlerFunc(handler.Status)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
