package retry

import (
	"math"
	"math/rand"
	"time"

	"genqueue/internal/domain"
)

// Delay returns the pause before re-attempt number retry (0-based) without
// jitter.
func Delay(cfg domain.RetryConfig, retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	var d time.Duration
	switch cfg.Strategy {
	case domain.StrategyExponential:
		f := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(retry))
		if math.IsInf(f, 0) || f > float64(math.MaxInt64) {
			return cfg.MaxDelay
		}
		d = time.Duration(f)
	case domain.StrategyLinear:
		d = cfg.InitialDelay * time.Duration(retry+1)
	case domain.StrategyFixed:
		return cfg.InitialDelay
	case domain.StrategyImmediate:
		return 0
	default:
		return cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// Jittered applies +/- cfg.Jitter to exponential and linear delays and keeps
// the result within [0, MaxDelay].
func Jittered(cfg domain.RetryConfig, retry int, rnd func() float64) time.Duration {
	d := Delay(cfg, retry)
	if cfg.Jitter <= 0 || d == 0 {
		return d
	}
	if cfg.Strategy != domain.StrategyExponential && cfg.Strategy != domain.StrategyLinear {
		return d
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := (rnd()*2 - 1) * cfg.Jitter
	d = time.Duration(float64(d) * (1 + spread))
	if d < 0 {
		d = 0
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
