package handlers

import (
	"net/http"
)

func (a *App) BreakerStates(w http.ResponseWriter, r *http.Request) {
	if a.Breakers == nil {
		a.error(w, http.StatusNotFound, "not_found", "breakers not configured")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Breakers.Snapshot()})
}

func (a *App) CacheStats(w http.ResponseWriter, r *http.Request) {
	if a.Cache == nil {
		a.error(w, http.StatusNotFound, "not_found", "cache not configured")
		return
	}
	a.json(w, http.StatusOK, a.Cache.Stats())
}

func (a *App) PoolStats(w http.ResponseWriter, r *http.Request) {
	if a.Pool == nil {
		a.error(w, http.StatusNotFound, "not_found", "pool not configured")
		return
	}
	a.json(w, http.StatusOK, a.Pool.Stats())
}

// RateLimitSnapshot serves GET /v1/ratelimit?actor=&scope=.
func (a *App) RateLimitSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.Limiter == nil {
		a.error(w, http.StatusNotFound, "not_found", "rate limiter not configured")
		return
	}
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "actor is required")
		return
	}
	a.json(w, http.StatusOK, a.Limiter.Snapshot(actor, r.URL.Query().Get("scope")))
}
