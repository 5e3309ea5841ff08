package handlers

import (
	"net/http"
)

// Health serves GET /v1/healthz with the optional components this process
// was started with.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status": "ok",
		"components": map[string]bool{
			"deadletter": a.DeadLetters != nil,
			"breakers":   a.Breakers != nil,
			"cache":      a.Cache != nil,
			"pool":       a.Pool != nil,
			"ratelimit":  a.Limiter != nil,
			"bulk":       a.Bulk != nil,
		},
	})
}
