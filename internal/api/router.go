// Package api exposes the analysis engine over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/cadence/internal/api/middleware"
	"github.com/sydlexius/cadence/internal/auth"
	"github.com/sydlexius/cadence/internal/detection"
	"github.com/sydlexius/cadence/internal/event"
	"github.com/sydlexius/cadence/internal/resolve"
	"github.com/sydlexius/cadence/internal/store"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	AuthService *auth.Service
	Store       *store.Service
	Resolver    *resolve.Resolver
	Reviewer    *resolve.Reviewer
	Detection   *detection.Client
	Bus         *event.Bus
	Logger      *slog.Logger
	BasePath    string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	authService *auth.Service
	store       *store.Service
	resolver    *resolve.Resolver
	reviewer    *resolve.Reviewer
	detection   *detection.Client
	bus         *event.Bus
	logger      *slog.Logger
	basePath    string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		authService: deps.AuthService,
		store:       deps.Store,
		resolver:    deps.Resolver,
		reviewer:    deps.Reviewer,
		detection:   deps.Detection,
		bus:         deps.Bus,
		logger:      deps.Logger,
		basePath:    deps.BasePath,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	authMw := middleware.Auth(r.authService)
	mux := http.NewServeMux()
	bp := r.basePath

	// Public routes (no auth)
	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Protected routes (auth required)
	mux.HandleFunc("GET "+bp+"/api/v1/tracks/{id}/analysis", wrapAuth(r.handleGetAnalysis, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/analysis/isrc-batch", wrapAuth(r.handleISRCBatch, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/analysis/ingest", wrapAuth(r.handleIngest, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/analysis/resolve-batch", wrapAuth(r.handleResolveBatch, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/batches", wrapAuth(r.handleSubmitBatch, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/batches/{id}/results", wrapAuth(r.handleBatchResults, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/batches/{id}", wrapAuth(r.handleBatchStatus, authMw))

	// Review decisions carry their own role check inside the reviewer; the
	// route still short-circuits non-admins early.
	mux.HandleFunc("POST "+bp+"/api/v1/tracks/{id}/review",
		wrapAuth(middleware.RequireAdmin(r.handleReviewAction), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/tracks/{id}/review",
		wrapAuth(middleware.RequireAdmin(r.handleReviewClear), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/admin/invalidate",
		wrapAuth(middleware.RequireAdmin(r.handleInvalidate), authMw))

	return middleware.Logging(r.logger)(mux)
}

// wrapAuth adapts middleware for registration as a HandlerFunc.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authMw(fn).ServeHTTP(w, r)
	}
}
