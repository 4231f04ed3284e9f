package api

import (
	"context"
	"net/http"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/api/handlers"
	"github.com/felixgeelhaar/pyportal/internal/api/middleware"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Deps are the services the API exposes. Progress, Features, Metrics and
// MetricsHandler are optional and must be left nil when not configured.
type Deps struct {
	Exercises handlers.ExerciseService
	Executor  handlers.Executor
	Progress  handlers.ProgressService
	Features  handlers.FeatureReader

	Metrics        middleware.RequestObserver
	MetricsHandler http.Handler

	// Checks run on GET /v1/health keyed by dependency name
	Checks map[string]HealthCheck

	AdminToken  string
	RateLimit   middleware.RateLimitConfig
	CORSOrigins []string
	Version     string
}

// Router wraps the HTTP multiplexer with middleware and handlers
type Router struct {
	mux      *http.ServeMux
	deps     Deps
	limiter  *middleware.RateLimiter
	exercise *handlers.ExerciseHandler
	exec     *handlers.ExecutionHandler
	progress *handlers.ProgressHandler
	handler  http.Handler
}

// NewRouter creates a new API router with all routes configured
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		deps:     deps,
		limiter:  middleware.NewRateLimiter(deps.RateLimit),
		exercise: handlers.NewExerciseHandler(deps.Exercises, deps.AdminToken),
		exec:     handlers.NewExecutionHandler(deps.Executor),
		progress: handlers.NewProgressHandler(deps.Progress, deps.Features),
	}
	r.registerRoutes()
	r.handler = r.buildMiddlewareChain(r.mux)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases the rate limiter
func (r *Router) Close() error {
	return r.limiter.Close()
}

func (r *Router) registerRoutes() {
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	if r.deps.MetricsHandler != nil {
		r.mux.Handle("GET /metrics", r.deps.MetricsHandler)
	}

	// Exercises
	r.mux.HandleFunc("GET /v1/exercises", r.exercise.List)
	r.mux.HandleFunc("GET /v1/exercises/{id}", r.exercise.Get)
	r.mux.HandleFunc("GET /v1/exercises/{id}/hints", r.exercise.Hints)
	r.mux.HandleFunc("POST /v1/exercises/refresh", r.exercise.Refresh)

	// Execution (rate limited per client)
	r.mux.Handle("POST /v1/execution/run", r.limiter.Wrap(http.HandlerFunc(r.exec.Run)))

	// Progress and features
	r.mux.HandleFunc("GET /v1/progress/{user}", r.progress.ListByUser)
	r.mux.HandleFunc("GET /v1/progress/{user}/{exercise}", r.progress.Get)
	r.mux.HandleFunc("POST /v1/progress/{user}/{exercise}", r.progress.Record)
	r.mux.HandleFunc("GET /v1/features/{name}", r.progress.Feature)
}

func (r *Router) buildMiddlewareChain(handler http.Handler) http.Handler {
	// Metrics wraps the mux directly so the matched pattern is visible.
	if r.deps.Metrics != nil {
		handler = middleware.Metrics(r.deps.Metrics)(handler)
	}
	handler = middleware.Recovery(handler)
	handler = middleware.Logger(handler)
	handler = middleware.CORS(r.deps.CORSOrigins)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(r.deps.Checks))
	for name, check := range r.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	handlers.WriteJSON(w, code, handlers.Response{
		Success: code == http.StatusOK,
		Data: map[string]any{
			"status":    status,
			"version":   r.deps.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		},
	})
}
