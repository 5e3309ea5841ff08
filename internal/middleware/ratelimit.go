package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Gate admits one request per call. *ratelimit.Limiter satisfies it.
type Gate interface {
	CanProceed(actorID, scopeID string) bool
	Delay(actorID, scopeID string) time.Duration
}

// RateLimit gates requests per client IP within scope. Refused requests get
// 429 with a Retry-After in whole seconds.
func RateLimit(gate Gate, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			if !gate.CanProceed(ip, scope) {
				wait := gate.Delay(ip, scope)
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
