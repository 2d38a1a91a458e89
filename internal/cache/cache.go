package cache

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

type Config struct {
	TTL              time.Duration
	MaxEntries       int
	SweepProbability float64
}

func DefaultConfig() Config {
	return Config{
		TTL:              5 * time.Minute,
		MaxEntries:       50,
		SweepProbability: 0.1,
	}
}

type Entry struct {
	Result   analysis.Result
	StoredAt time.Time
	seq      uint64
}

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Evicted int64 `json:"evicted"`
}

// Cache maps image fingerprints to results. Eviction is by store time, not access time:
// a hit does not refresh an entry.
type Cache struct {
	cfg    Config
	clock  clock.Clock
	sample func() float64

	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64
	hits    int64
	misses  int64
	evicted int64
}

type Option func(*Cache)

// WithSampler replaces the random source that decides whether a Set also sweeps.
func WithSampler(sample func() float64) Option {
	return func(c *Cache) {
		if sample != nil {
			c.sample = sample
		}
	}
}

func New(cfg Config, clk clock.Clock, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.SweepProbability < 0 {
		cfg.SweepProbability = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	c := &Cache{
		cfg:     cfg,
		clock:   clk,
		sample:  rand.Float64,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result for fingerprint if it is younger than the TTL.
func (c *Cache) Get(fingerprint string) (analysis.Result, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok || now.Sub(e.StoredAt) >= c.cfg.TTL {
		c.misses++
		return analysis.Result{}, false
	}
	c.hits++
	return e.Result, true
}

// Set stores result under fingerprint. The size bound is enforced on every call; expired
// entries are only swept on a random fraction of calls.
func (c *Cache) Set(fingerprint string, result analysis.Result) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[fingerprint] = &Entry{Result: result, StoredAt: now, seq: c.seq}

	if c.cfg.SweepProbability > 0 && c.sample() < c.cfg.SweepProbability {
		c.sweepExpiredLocked(now)
	}
	c.trimLocked()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sweepExpiredLocked(now)
}

func (c *Cache) sweepExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.StoredAt) >= c.cfg.TTL {
			delete(c.entries, key)
			removed++
		}
	}
	c.evicted += int64(removed)
	return removed
}

// trimLocked keeps only the most recently stored MaxEntries entries.
func (c *Cache) trimLocked() {
	over := len(c.entries) - c.cfg.MaxEntries
	if over <= 0 {
		return
	}

	type keyed struct {
		key string
		seq uint64
	}
	all := make([]keyed, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, keyed{key: key, seq: e.seq})
	}
	slices.SortFunc(all, func(a, b keyed) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	for _, k := range all[:over] {
		delete(c.entries, k.key)
	}
	c.evicted += int64(over)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
	}
}

func (c *Cache) Config() Config {
	return c.cfg
}
