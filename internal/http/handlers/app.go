package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"genqueue/internal/breaker"
	"genqueue/internal/domain"
	"genqueue/internal/fingerprint"
	"genqueue/internal/ratelimit"
	"genqueue/internal/worker"
)

type BreakerSource interface {
	Snapshot() []breaker.Snapshot
}

type CacheSource interface {
	Stats() fingerprint.Stats
}

type PoolSource interface {
	Stats() worker.Stats
}

type LimiterSource interface {
	Snapshot(actorID, scopeID string) ratelimit.Snapshot
}

// App holds the read-only views served by the ops surface. Nil sources
// answer 404.
type App struct {
	DeadLetters domain.DeadLetterRepository
	Breakers    BreakerSource
	Cache       CacheSource
	Pool        PoolSource
	Limiter     LimiterSource
	Bulk        BulkSource
	Logger      zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, map[string]string{"error": kind, "message": msg})
}
