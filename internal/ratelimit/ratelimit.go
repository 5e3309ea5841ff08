// Package ratelimit gates admission per actor and per scope. A request
// proceeds only when both the scope's token bucket and the actor's sliding
// window allow it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter tuning.
type Config struct {
	// PerActorRequests is the sliding-window ceiling per actor over Window.
	PerActorRequests int
	// Window is the sliding window length.
	Window time.Duration
	// PerScopeRequests is the sustained refill of each scope bucket per Window.
	PerScopeRequests int
	// BucketCapacity is the burst size of each scope bucket.
	BucketCapacity int
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		PerActorRequests: 30,
		Window:           time.Minute,
		PerScopeRequests: 120,
		BucketCapacity:   20,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.PerActorRequests <= 0 {
		c.PerActorRequests = def.PerActorRequests
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.PerScopeRequests <= 0 {
		c.PerScopeRequests = def.PerScopeRequests
	}
	if c.BucketCapacity <= 0 {
		c.BucketCapacity = def.BucketCapacity
	}
	return c
}

// window is one actor's sliding log of admitted request times.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	pruned bool
}

// evict drops stamps that have aged out. Caller holds mu.
func (w *window) evict(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Limiter is safe for concurrent use. Each actor window and each scope
// bucket carries its own lock; the maps are guarded only for lookup.
type Limiter struct {
	cfg Config
	now func() time.Time

	actorMu sync.RWMutex
	actors  map[string]*window

	scopeMu sync.RWMutex
	scopes  map[string]*rate.Limiter
}

// New creates a limiter. now may be nil.
func New(cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		cfg:    cfg.normalize(),
		now:    now,
		actors: make(map[string]*window),
		scopes: make(map[string]*rate.Limiter),
	}
}

// lockActor returns the live window for id with its lock held.
func (l *Limiter) lockActor(id string) *window {
	for {
		w := l.actor(id)
		w.mu.Lock()
		if !w.pruned {
			return w
		}
		w.mu.Unlock()
	}
}

func (l *Limiter) actor(id string) *window {
	l.actorMu.RLock()
	w, ok := l.actors[id]
	l.actorMu.RUnlock()
	if ok {
		return w
	}
	l.actorMu.Lock()
	defer l.actorMu.Unlock()
	if w, ok := l.actors[id]; ok {
		return w
	}
	w = &window{}
	l.actors[id] = w
	return w
}

func (l *Limiter) scope(id string) *rate.Limiter {
	l.scopeMu.RLock()
	b, ok := l.scopes[id]
	l.scopeMu.RUnlock()
	if ok {
		return b
	}
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	if b, ok := l.scopes[id]; ok {
		return b
	}
	perSecond := float64(l.cfg.PerScopeRequests) / l.cfg.Window.Seconds()
	b = rate.NewLimiter(rate.Limit(perSecond), l.cfg.BucketCapacity)
	l.scopes[id] = b
	return b
}

// CanProceed admits one request for actorID within scopeID. A refusal by
// either gate consumes nothing from the other.
func (l *Limiter) CanProceed(actorID, scopeID string) bool {
	now := l.now()
	w := l.lockActor(actorID)
	defer w.mu.Unlock()

	w.evict(now, l.cfg.Window)
	if len(w.stamps) >= l.cfg.PerActorRequests {
		return false
	}
	if !l.scope(scopeID).AllowN(now, 1) {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// BackoffTime returns how long until the actor's window frees a slot,
// bounded to the window length. Zero means a slot is free now.
func (l *Limiter) BackoffTime(actorID string) time.Duration {
	now := l.now()
	w := l.lockActor(actorID)
	defer w.mu.Unlock()

	w.evict(now, l.cfg.Window)
	if len(w.stamps) < l.cfg.PerActorRequests {
		return 0
	}
	wait := w.stamps[0].Add(l.cfg.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	if wait > l.cfg.Window {
		return l.cfg.Window
	}
	return wait
}

// ScopeBackoffTime returns how long until the scope bucket holds a token.
func (l *Limiter) ScopeBackoffTime(scopeID string) time.Duration {
	b := l.scope(scopeID)
	tokens := b.TokensAt(l.now())
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(b.Limit()) * float64(time.Second))
}

// Delay combines both gates into the wait a refused caller should observe.
func (l *Limiter) Delay(actorID, scopeID string) time.Duration {
	d := l.BackoffTime(actorID)
	if s := l.ScopeBackoffTime(scopeID); s > d {
		d = s
	}
	return d
}

// Wait blocks until CanProceed admits the request or ctx is done.
func (l *Limiter) Wait(ctx context.Context, actorID, scopeID string) error {
	const minSleep = 10 * time.Millisecond
	for {
		if l.CanProceed(actorID, scopeID) {
			return nil
		}
		d := l.Delay(actorID, scopeID)
		if d < minSleep {
			d = minSleep
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Snapshot describes the current usage of an actor and scope.
type Snapshot struct {
	ActorID         string  `json:"actor_id"`
	WindowUsed      int     `json:"window_used"`
	WindowLimit     int     `json:"window_limit"`
	ScopeID         string  `json:"scope_id"`
	TokensAvailable float64 `json:"tokens_available"`
}

// Snapshot reports usage without consuming anything.
func (l *Limiter) Snapshot(actorID, scopeID string) Snapshot {
	now := l.now()
	w := l.lockActor(actorID)
	w.evict(now, l.cfg.Window)
	used := len(w.stamps)
	w.mu.Unlock()
	return Snapshot{
		ActorID:         actorID,
		WindowUsed:      used,
		WindowLimit:     l.cfg.PerActorRequests,
		ScopeID:         scopeID,
		TokensAvailable: l.scope(scopeID).TokensAt(now),
	}
}

// Prune forgets actors whose window is empty and returns how many were
// removed.
func (l *Limiter) Prune() int {
	now := l.now()
	l.actorMu.Lock()
	defer l.actorMu.Unlock()
	removed := 0
	for id, w := range l.actors {
		w.mu.Lock()
		w.evict(now, l.cfg.Window)
		empty := len(w.stamps) == 0
		if empty {
			w.pruned = true
		}
		w.mu.Unlock()
		if empty {
			delete(l.actors, id)
			removed++
		}
	}
	return removed
}
