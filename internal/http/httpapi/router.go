package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genqueue/internal/http/handlers"
	"genqueue/internal/middleware"
)

// NewRouter mounts the ops surface. gate may be nil to serve without
// per-client limits.
func NewRouter(app *handlers.App, logger zerolog.Logger, gate middleware.Gate) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	if gate != nil {
		r.Use(middleware.RateLimit(gate, "ops"))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/deadletter", func(r chi.Router) {
		r.Get("/", app.DeadLetterList)
		r.Get("/stats", app.DeadLetterStats)
		r.Get("/export", app.DeadLetterExport)
	})
	r.Get("/v1/breakers", app.BreakerStates)
	r.Get("/v1/cache/stats", app.CacheStats)
	r.Get("/v1/pool/stats", app.PoolStats)
	r.Get("/v1/ratelimit", app.RateLimitSnapshot)

	r.Route("/v1/bulk", func(r chi.Router) {
		r.Get("/", app.BulkList)
		r.Post("/", app.BulkCreate)
		r.Get("/{id}", app.BulkGet)
		r.Post("/{id}/rows", app.BulkAddRows)
	})

	return r
}
