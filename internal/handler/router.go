// Package handler provides HTTP handlers for Alexander Storage API.
package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-storage/internal/auth"
	"github.com/prn-tf/alexander-storage/internal/metrics"
	"github.com/prn-tf/alexander-storage/internal/middleware"
)

// Router handles HTTP routing for the ingest and release-download API.
type Router struct {
	ingestHandler     *IngestHandler
	releaseHandler    *ReleaseHandler
	healthChecker     *HealthChecker
	authMiddleware    func(http.Handler) http.Handler
	rateLimiter       *middleware.RateLimiter
	tracing           *middleware.Tracing
	metricsMiddleware *middleware.MetricsMiddleware
	metrics           *metrics.Metrics
	logger            zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	IngestHandler  *IngestHandler
	ReleaseHandler *ReleaseHandler
	HealthChecker  *HealthChecker
	AuthMiddleware func(http.Handler) http.Handler
	RateLimiter    *middleware.RateLimiter
	Tracing        *middleware.Tracing
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	var metricsMiddleware *middleware.MetricsMiddleware
	if config.Metrics != nil {
		metricsMiddleware = middleware.NewMetricsMiddleware(config.Metrics)
	}

	return &Router{
		ingestHandler:     config.IngestHandler,
		releaseHandler:    config.ReleaseHandler,
		healthChecker:     config.HealthChecker,
		authMiddleware:    config.AuthMiddleware,
		rateLimiter:       config.RateLimiter,
		tracing:           config.Tracing,
		metricsMiddleware: metricsMiddleware,
		metrics:           config.Metrics,
		logger:            config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints. The middleware chain below wraps the whole
	// mux, so these pass through auth and rate limiting like any route.
	if rt.healthChecker != nil {
		mux.HandleFunc("/health", rt.healthChecker.HandleHealth)
		mux.HandleFunc("/healthz", rt.healthChecker.HandleLiveness)
		mux.HandleFunc("/readyz", rt.healthChecker.HandleReadiness)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { SimpleHealth(w, r) })
	}

	// Ingest protocol: session lifecycle and chunk/file negotiation.
	mux.HandleFunc("POST /ingest/sessions", rt.ingestHandler.CreateSession)
	mux.HandleFunc("GET /ingest/{session}", rt.ingestHandler.GetSession)
	mux.HandleFunc("DELETE /ingest/{session}", rt.ingestHandler.Abort)
	mux.HandleFunc("POST /ingest/{session}/chunks/missing", rt.ingestHandler.MissingChunks)
	mux.HandleFunc("POST /ingest/{session}/files/missing", rt.ingestHandler.MissingFiles)
	mux.HandleFunc("POST /ingest/{session}/chunks/batch", rt.ingestHandler.UploadChunks)
	mux.HandleFunc("POST /ingest/{session}/files/batch", rt.ingestHandler.UploadFileDefinitions)
	mux.HandleFunc("POST /ingest/{session}/finalize", rt.ingestHandler.Finalize)

	// Release distribution.
	mux.HandleFunc("GET /releases/{id}/download", rt.releaseHandler.Download)
	mux.HandleFunc("GET /releases/{id}/patch", rt.releaseHandler.DownloadPatch)

	// Prometheus scrape target (behind the same middleware chain, auth
	// included).
	mux.Handle("GET /metrics", metrics.Handler())

	// Build middleware chain (innermost to outermost).
	var h http.Handler = mux

	// Auth middleware (innermost - runs last, after tracing, metrics and
	// rate limiting).
	if rt.authMiddleware != nil {
		h = rt.authMiddleware(h)
	}

	// Rate limiting middleware.
	if rt.rateLimiter != nil {
		h = rt.rateLimiter.Middleware(h)
	}

	// Metrics middleware (track in-flight requests).
	if rt.metricsMiddleware != nil {
		h = rt.metricsMiddleware.Middleware(h)
	}

	// Tracing middleware (outermost - first to execute).
	if rt.tracing != nil {
		h = rt.tracing.Middleware(h)
	}

	return h
}

// CreateAuthMiddleware creates an authentication middleware backed by the
// given Authorizer, reporting attempts/failures through m (may be nil).
func CreateAuthMiddleware(authorizer *auth.Authorizer, m *metrics.Metrics) func(http.Handler) http.Handler {
	return auth.Middleware(authorizer, m)
}
