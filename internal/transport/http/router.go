// Package httptransport assembles the public HTTP surface: the middleware
// chain, health and metrics endpoints, and every domain handler.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alma/pkg/platform/httputil"
	"alma/pkg/platform/middleware/auth"
	"alma/pkg/platform/middleware/metadata"
	request "alma/pkg/platform/middleware/request"
	"alma/pkg/platform/middleware/requesttime"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router wires together.
type Deps struct {
	Logger         *slog.Logger
	Validator      auth.JWTValidator
	Latency        request.LatencyObserver
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// RateLimit, when set, runs after authentication on every API route.
	RateLimit func(http.Handler) http.Handler
	Health    map[string]HealthCheck
	Handlers  []Registrar
}

const defaultRequestTimeout = 10 * time.Second

// NewRouter builds the root handler. Every API route runs with an actor in
// context: anonymous unless a valid bearer token is presented.
func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(d.Health))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Latency(d.Latency, routePattern))
		r.Use(request.Timeout(timeout))
		r.Use(auth.OptionalAuth(d.Validator, d.Logger))
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		for _, h := range d.Handlers {
			h.Register(r)
		}
	})
	return r
}

// routePattern labels latency by chi route template so ids don't explode
// metric cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		res := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				res.Checks[name] = err.Error()
				res.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			res.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, res)
	}
}
