// Package fingerprint reuses results for identical and near-identical
// generation requests.
package fingerprint

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
)

// Config tunes a Cache.
type Config struct {
	// Capacity is the maximum number of entries (memory_size).
	Capacity int
	// TTL expires entries; zero keeps them until evicted.
	TTL time.Duration
	// NearDuplicateThreshold is the minimum prompt word overlap for two
	// requests with equal parameters to share a result.
	NearDuplicateThreshold float64
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{Capacity: 1000, NearDuplicateThreshold: 0.85}
}

// Mirror is a second-level store consulted on exact-fingerprint misses.
type Mirror interface {
	Load(ctx context.Context, fingerprint string) (domain.Output, bool, error)
	Store(ctx context.Context, fingerprint string, out domain.Output) error
}

// Stats counts cache activity.
type Stats struct {
	Hits      int64 `json:"hits"`
	NearHits  int64 `json:"near_hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type entry struct {
	fingerprint string
	paramKey    string
	tokens      map[string]struct{}
	output      domain.Output
	storedAt    time.Time
}

// Cache is an LRU keyed by request fingerprint. A single mutex guards the
// LRU and its parameter index since every Get reorders recency.
type Cache struct {
	cfg    Config
	now    func() time.Time
	mirror Mirror
	logger zerolog.Logger

	mu       sync.Mutex
	lru      *simplelru.LRU[string, *entry]
	byParams map[string]map[string]struct{}
	stats    Stats
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithMirror attaches a second-level store.
func WithMirror(m Mirror) Option { return func(c *Cache) { c.mirror = m } }

// WithLogger sets the logger used for mirror errors.
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.logger = l } }

// New creates a cache.
func New(cfg Config, opts ...Option) (*Cache, error) {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.NearDuplicateThreshold <= 0 || cfg.NearDuplicateThreshold > 1 {
		cfg.NearDuplicateThreshold = def.NearDuplicateThreshold
	}
	c := &Cache{
		cfg:      cfg,
		now:      time.Now,
		logger:   zerolog.Nop(),
		byParams: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	lru, err := simplelru.NewLRU[string, *entry](cfg.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs inside LRU calls, which only happen with mu held.
func (c *Cache) onEvict(fp string, e *entry) {
	c.stats.Evictions++
	if set, ok := c.byParams[e.paramKey]; ok {
		delete(set, fp)
		if len(set) == 0 {
			delete(c.byParams, e.paramKey)
		}
	}
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return c.cfg.TTL > 0 && now.Sub(e.storedAt) >= c.cfg.TTL
}

// Get returns the cached output for req or a near-duplicate of it. The
// returned output is addressed to req.ID.
func (c *Cache) Get(ctx context.Context, req domain.ContentRequest) (domain.Output, bool) {
	fp := Of(req)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.lookupLocked(fp, now); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return readdress(e.output, req.ID), true
	}
	if e := c.nearestLocked(req, now); e != nil {
		c.lru.Get(e.fingerprint)
		c.stats.NearHits++
		c.mu.Unlock()
		return readdress(e.output, req.ID), true
	}
	c.mu.Unlock()

	if c.mirror != nil {
		out, ok, err := c.mirror.Load(ctx, fp)
		if err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("fingerprint: mirror load failed")
		} else if ok {
			c.mu.Lock()
			c.addLocked(fp, req, out, now)
			c.stats.Hits++
			c.mu.Unlock()
			return readdress(out, req.ID), true
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return domain.Output{}, false
}

// Set stores out as the result for req and writes it through to the mirror.
func (c *Cache) Set(ctx context.Context, req domain.ContentRequest, out domain.Output) {
	fp := Of(req)
	c.mu.Lock()
	c.addLocked(fp, req, out, c.now())
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.Store(ctx, fp, out); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("fingerprint: mirror store failed")
		}
	}
}

// IsNearDuplicate reports whether req matches a cached entry exactly or
// within the similarity threshold. It does not touch recency.
func (c *Cache) IsNearDuplicate(req domain.ContentRequest) bool {
	fp := Of(req)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(fp); ok && !c.expired(e, now) {
		return true
	}
	return c.nearestLocked(req, now) != nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	return s
}

func (c *Cache) lookupLocked(fp string, now time.Time) (*entry, bool) {
	e, ok := c.lru.Get(fp)
	if !ok {
		return nil, false
	}
	if c.expired(e, now) {
		c.lru.Remove(fp)
		return nil, false
	}
	return e, true
}

// nearestLocked returns the most similar live entry sharing req's
// parameters, or nil when none reaches the threshold.
func (c *Cache) nearestLocked(req domain.ContentRequest, now time.Time) *entry {
	candidates := c.byParams[ParamKey(req)]
	if len(candidates) == 0 {
		return nil
	}
	tokens := TokenSet(NormalizePrompt(req.Prompt))
	var (
		best    *entry
		bestSim float64
	)
	for fp := range candidates {
		e, ok := c.lru.Peek(fp)
		if !ok || c.expired(e, now) {
			continue
		}
		sim := Jaccard(tokens, e.tokens)
		if sim >= c.cfg.NearDuplicateThreshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	return best
}

func (c *Cache) addLocked(fp string, req domain.ContentRequest, out domain.Output, now time.Time) {
	e := &entry{
		fingerprint: fp,
		paramKey:    ParamKey(req),
		tokens:      TokenSet(NormalizePrompt(req.Prompt)),
		output:      out,
		storedAt:    now,
	}
	c.lru.Add(fp, e)
	set, ok := c.byParams[e.paramKey]
	if !ok {
		set = make(map[string]struct{})
		c.byParams[e.paramKey] = set
	}
	set[fp] = struct{}{}
}

func readdress(out domain.Output, requestID string) domain.Output {
	if out.RequestID == requestID {
		return out
	}
	meta := maps.Clone(out.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["cached_from"] = out.RequestID
	out.Metadata = meta
	out.RequestID = requestID
	return out
}
