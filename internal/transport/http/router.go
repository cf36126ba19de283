// Package httptransport assembles the public HTTP surface. Handlers live with
// their bounded context; this package only orders middleware and mounts them.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veritas/internal/platform/health"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/platform/middleware/request"
	"veritas/pkg/platform/middleware/requesttime"
)

// RequestTimeout bounds API handlers. Health and metrics are exempt.
const RequestTimeout = 30 * time.Second

// Registrar mounts a context's routes.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware stack, health probes, /metrics and every
// API handler.
func NewRouter(logger *slog.Logger, metrics *request.Metrics, probes *health.Handler, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	r.Use(request.LatencyMiddleware(metrics))

	if probes != nil {
		probes.Register(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.BodyLimit(httputil.MaxBodyBytes))
		r.Use(request.ContentTypeJSON)
		r.Use(request.Timeout(RequestTimeout))
		for _, h := range handlers {
			h.Register(r)
		}
	})

	return r
}
