package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GoCodeAlone/contentflow/metrics"
	"github.com/GoCodeAlone/contentflow/observability/tracing"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes int64 = 1 << 20

// Config holds configuration for the API layer.
type Config struct {
	// JWTSecret enables bearer authentication on management routes.
	JWTSecret string //nolint:gosec // config field
	JWTIssuer string

	// RequireSignature rejects webhook requests without a signature header.
	RequireSignature bool
	Tolerance        time.Duration

	// WebhookRateLimit is requests per second per client IP on the webhook
	// route. Zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int

	MaxBodyBytes int64
}

// Deps groups the collaborators the API needs.
type Deps struct {
	Repo     store.Repository
	Executor Executor
	// Dispatcher is optional. Dead-letter routes are registered only when it
	// is set.
	Dispatcher  *webhook.Dispatcher
	DeadLetters *webhook.DeadLetterStore
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Router is the HTTP entry point for the service.
type Router struct {
	handler http.Handler
	mw      *Middleware
}

// NewRouter creates a Router with all routes registered.
func NewRouter(deps Deps, cfg Config) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mw := NewMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer, deps.Metrics, logger)

	rn := &runner{repo: deps.Repo, executor: deps.Executor, metrics: deps.Metrics, logger: logger}
	if deps.Dispatcher != nil {
		rn.dispatcher = deps.Dispatcher
	}

	// --- Pipelines ---
	pipeH := &PipelineHandler{repo: deps.Repo, runner: rn, maxBody: maxBody, logger: logger}
	mux.Handle("GET /pipelines", mw.RequireAuth(http.HandlerFunc(pipeH.List)))
	mux.Handle("POST /pipelines", mw.RequireAuth(http.HandlerFunc(pipeH.Create)))
	mux.Handle("GET /pipelines/{id}", mw.RequireAuth(http.HandlerFunc(pipeH.Get)))
	mux.Handle("PATCH /pipelines/{id}", mw.RequireAuth(http.HandlerFunc(pipeH.Update)))
	mux.Handle("DELETE /pipelines/{id}", mw.RequireAuth(http.HandlerFunc(pipeH.Delete)))
	mux.Handle("POST /pipelines/{id}/run", mw.RequireAuth(http.HandlerFunc(pipeH.Run)))

	// --- Webhooks ---
	hookH := &HookHandler{
		repo:     deps.Repo,
		verifier: webhook.NewVerifier(cfg.RequireSignature, cfg.Tolerance),
		runner:   rn,
		maxBody:  maxBody,
		logger:   logger,
	}
	hookRL := mw.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst)
	mux.Handle("POST "+hookPathPrefix+"{secret}", hookRL(http.HandlerFunc(hookH.Trigger)))

	// --- Queue dead letters ---
	if deps.Dispatcher != nil && deps.DeadLetters != nil {
		dlH := &DeadLetterHandler{store: deps.DeadLetters, manager: deps.Dispatcher.Manager(), logger: logger}
		mux.Handle("GET /queue/dead-letters", mw.RequireAuth(http.HandlerFunc(dlH.List)))
		mux.Handle("POST /queue/dead-letters/{id}/retry", mw.RequireAuth(http.HandlerFunc(dlH.Retry)))
		mux.Handle("DELETE /queue/dead-letters/{id}", mw.RequireAuth(http.HandlerFunc(dlH.Delete)))
	}

	// --- Health & metrics ---
	mux.HandleFunc("GET /healthz", healthHandler(deps.Repo, logger))
	if deps.Metrics != nil {
		mux.Handle("GET "+deps.Metrics.Path(), deps.Metrics.Handler())
	}

	return &Router{
		handler: tracing.Middleware("contentflow", mw.Instrument(mux), redactHookPath),
		mw:      mw,
	}
}

// hookPathPrefix precedes the webhook secret in trigger URLs.
const hookPathPrefix = "/hooks/pipelines/"

// redactHookPath hides the webhook secret from span attributes.
func redactHookPath(r *http.Request) (string, bool) {
	if !strings.HasPrefix(r.URL.Path, hookPathPrefix) {
		return "", false
	}
	return hookPathPrefix + "{secret}", true
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Stop releases background resources held by the middleware.
func (rt *Router) Stop() { rt.mw.Stop() }

// resolvable is implemented by repositories that pick their backend lazily.
type resolvable interface {
	Resolve(ctx context.Context) (store.Kind, error)
}

func healthHandler(repo store.Repository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backend := repo.Kind()
		if res, ok := repo.(resolvable); ok && backend == "" {
			kind, err := res.Resolve(r.Context())
			if err != nil {
				logger.Error("Repository unavailable", "error", err)
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
			backend = kind
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": string(backend)})
	}
}
