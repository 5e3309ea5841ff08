// Package breaker keeps one circuit breaker per (handler, job type) pair.
package breaker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"genqueue/internal/domain"
)

// State mirrors the breaker state names used on the ops surface.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes every breaker created by a Registry.
type Config struct {
	// FailureThreshold is the failure ratio within Window that opens the breaker.
	FailureThreshold float64
	// MinRequests is the number of outcomes required before the ratio is trusted.
	MinRequests uint32
	// Window is the counting period while closed; counts reset when it elapses.
	Window time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenTrials is the number of trial attempts admitted while half-open.
	HalfOpenTrials uint32
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		MinRequests:      5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		HalfOpenTrials:   1,
	}
}

// Key identifies one breaker.
type Key struct {
	Handler string
	JobType domain.JobType
}

func (k Key) String() string { return k.Handler + "/" + string(k.JobType) }

// Snapshot is a read-only view of one breaker.
type Snapshot struct {
	Handler             string `json:"handler"`
	JobType             string `json:"job_type"`
	State               State  `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Registry owns the breakers. Each key gets its own breaker so unrelated
// pairs never contend; the registry lock only guards lookup.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	breakers map[Key]*gobreaker.TwoStepCircuitBreaker[struct{}]
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenTrials == 0 {
		cfg.HalfOpenTrials = def.HalfOpenTrials
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[Key]*gobreaker.TwoStepCircuitBreaker[struct{}]),
	}
}

func (r *Registry) get(key Key) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](r.settings(key))
	r.breakers[key] = cb
	return cb
}

func (r *Registry) settings(key Key) gobreaker.Settings {
	threshold := r.cfg.FailureThreshold
	minRequests := r.cfg.MinRequests
	return gobreaker.Settings{
		Name:        key.String(),
		MaxRequests: r.cfg.HalfOpenTrials,
		Interval:    r.cfg.Window,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < minRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("breaker: state changed")
		},
	}
}

// Permit is a granted attempt. Done must be called exactly once with the
// attempt outcome.
type Permit struct {
	done func(success bool)
}

// Done reports the attempt outcome to the breaker.
func (p Permit) Done(success bool) {
	if p.done != nil {
		p.done(success)
	}
}

// Allow asks the breaker for key whether a new attempt may start. It returns
// domain.ErrCircuitOpen when the attempt must be short-circuited.
func (r *Registry) Allow(handler string, jobType domain.JobType) (Permit, error) {
	done, err := r.get(Key{Handler: handler, JobType: jobType}).Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Permit{}, domain.ErrCircuitOpen
		}
		return Permit{}, err
	}
	return Permit{done: done}, nil
}

// State reports the current state for a key. Unknown keys are closed.
func (r *Registry) State(handler string, jobType domain.JobType) State {
	r.mu.RLock()
	cb, ok := r.breakers[Key{Handler: handler, JobType: jobType}]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return convert(cb.State())
}

// Snapshot lists every known breaker ordered by key.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for key, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			Handler:             key.Handler,
			JobType:             string(key.JobType),
			State:               convert(cb.State()),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handler != out[j].Handler {
			return out[i].Handler < out[j].Handler
		}
		return out[i].JobType < out[j].JobType
	})
	return out
}

func convert(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
