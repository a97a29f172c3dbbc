// Package cache stores materialized query results in memory with TTL expiry,
// a global byte budget and single-flight computation, optionally backed by a
// shared Redis tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
)

// Payload is a materialized result as stored in the cache
type Payload struct {
	Data     []byte
	RowCount int
	// Value is the decoded form of Data. It lives only in this process and is
	// never written to a backend.
	Value any
}

// Entry represents a cache entry with metadata
type Entry struct {
	Key        string        `json:"key"`
	Data       []byte        `json:"data"`
	RowCount   int           `json:"row_count"`
	SizeBytes  int64         `json:"size_bytes"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl"`
	LastAccess time.Time     `json:"last_access"`

	value any
}

func (e *Entry) payload() Payload {
	return Payload{Data: e.Data, RowCount: e.RowCount, Value: e.value}
}

func (e *Entry) expiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Stats represents cache statistics
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	TotalBytes int64   `json:"total_bytes"`
	EntryCount int     `json:"entry_count"`
	HitRate    float64 `json:"hit_rate"`
}

// EntryInfo describes a live entry without its payload
type EntryInfo struct {
	Key       string        `json:"key"`
	Source    string        `json:"source"`
	RowCount  int           `json:"row_count"`
	SizeBytes int64         `json:"size_bytes"`
	CreatedAt time.Time     `json:"created_at"`
	Remaining time.Duration `json:"remaining"`
}

// Backend is a second cache tier shared between processes
type Backend interface {
	Get(ctx context.Context, key string) (Payload, time.Duration, bool, error)
	Set(ctx context.Context, key string, p Payload, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Metrics receives cache events
type Metrics interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
	CacheSize(bytes int64, entries int)
}

type noopMetrics struct{}

func (noopMetrics) CacheHit()            {}
func (noopMetrics) CacheMiss()           {}
func (noopMetrics) CacheEviction()       {}
func (noopMetrics) CacheSize(int64, int) {}

// Limits bounds the cache
type Limits struct {
	MaxEntryBytes   int64
	MaxTotalBytes   int64
	MaxEntries      int
	DefaultTTL      time.Duration
	ComputeTimeout  time.Duration
	CleanupInterval time.Duration
}

// DefaultLimits returns the limits used when nothing is configured
func DefaultLimits() Limits {
	return Limits{
		MaxEntryBytes:  100 << 20,
		MaxTotalBytes:  500 << 20,
		MaxEntries:     10000,
		DefaultTTL:     time.Hour,
		ComputeTimeout: time.Minute,
	}
}

// LimitsFromConfig converts the cache configuration section
func LimitsFromConfig(cfg config.CacheConfig) Limits {
	limits := DefaultLimits()
	if cfg.MaxEntrySizeMB > 0 {
		limits.MaxEntryBytes = cfg.MaxEntryBytes()
	}

	if cfg.MaxTotalSizeMB > 0 {
		limits.MaxTotalBytes = cfg.MaxTotalBytes()
	}

	if cfg.MaxEntries > 0 {
		limits.MaxEntries = cfg.MaxEntries
	}

	limits.DefaultTTL = cfg.TTLDuration()
	limits.ComputeTimeout = cfg.ComputeTimeoutDuration()
	limits.CleanupInterval = limits.DefaultTTL / 4

	return limits
}

// Option customizes a ResultCache
type Option func(*ResultCache)

// WithBackend adds a shared second tier
func WithBackend(b Backend) Option {
	return func(c *ResultCache) {
		c.backend = b
	}
}

// WithMetrics reports cache events to m
func WithMetrics(m Metrics) Option {
	return func(c *ResultCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *ResultCache) {
		c.logger = logger
	}
}

// ResultCache is an in-memory result store. Recency is tracked by an LRU
// list; the byte budget is enforced on Set only.
type ResultCache struct {
	limits  Limits
	backend Backend
	metrics Metrics
	logger  *logging.Logger
	now     func() time.Time

	mu         sync.Mutex
	entries    *simplelru.LRU[string, *Entry]
	totalBytes int64
	hits       int64
	misses     int64
	evictions  int64
	// generation changes on every Invalidate so in-flight computations
	// started before it do not repopulate removed keys
	generation uint64

	group singleflight.Group

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a cache bounded by limits. A positive CleanupInterval starts a
// janitor that removes expired entries until Close.
func New(limits Limits, opts ...Option) (*ResultCache, error) {
	defaults := DefaultLimits()
	if limits.MaxEntries <= 0 {
		limits.MaxEntries = defaults.MaxEntries
	}

	if limits.DefaultTTL <= 0 {
		limits.DefaultTTL = defaults.DefaultTTL
	}

	if limits.ComputeTimeout <= 0 {
		limits.ComputeTimeout = defaults.ComputeTimeout
	}

	c := &ResultCache{
		limits:      limits,
		metrics:     noopMetrics{},
		logger:      logging.GetLogger().WithField("component", "result_cache"),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	entries, err := simplelru.NewLRU[string, *Entry](limits.MaxEntries, func(_ string, e *Entry) {
		c.totalBytes -= e.SizeBytes
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to create cache")
	}

	c.entries = entries

	for _, opt := range opts {
		opt(c)
	}

	if limits.CleanupInterval > 0 {
		go c.backgroundCleanup(limits.CleanupInterval)
	}

	return c, nil
}

// NewFromConfig creates the cache described by cfg, connecting the Redis tier
// when an address is configured
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, opts ...Option) (*ResultCache, error) {
	if cfg.RedisAddr != "" {
		backend, err := NewRedisBackendFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}

		opts = append([]Option{WithBackend(backend)}, opts...)
	}

	return New(LimitsFromConfig(cfg), opts...)
}

// Key derives the cache key of a query against a source. The key is
// namespaced by source so Invalidate("<source>:") drops only that source.
func Key(queryText, sourceName string, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}

	// encoding/json writes map keys in sorted order
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(queryText))))
	h.Write([]byte{0})
	h.Write([]byte(sourceName))
	h.Write([]byte{0})
	h.Write(encoded)

	return sourceName + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Get retrieves a live entry. Expired entries are removed on access. A local
// miss falls through to the backend, and a backend hit is copied locally.
func (c *ResultCache) Get(ctx context.Context, key string) (Payload, bool) {
	if p, ok := c.getLocal(key, true); ok {
		c.metrics.CacheHit()
		return p, true
	}

	if c.backend != nil {
		p, remaining, found, err := c.backend.Get(ctx, key)
		if err != nil {
			c.logger.WithError(err).WithField("key", key).Debug("Cache backend lookup failed")
		}

		if found {
			c.mu.Lock()
			c.hits++
			if c.fits(p) {
				c.storeLocked(key, p, remaining)
			}
			c.mu.Unlock()
			c.metrics.CacheHit()

			return p, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.metrics.CacheMiss()

	return Payload{}, false
}

func (c *ResultCache) getLocal(key string, count bool) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return Payload{}, false
	}

	now := c.now()
	if !now.Before(e.expiresAt()) {
		c.entries.Remove(key)
		return Payload{}, false
	}

	e.LastAccess = now
	if count {
		c.hits++
	}

	return e.payload(), true
}

func (c *ResultCache) fits(p Payload) bool {
	return c.limits.MaxEntryBytes <= 0 || int64(len(p.Data)) <= c.limits.MaxEntryBytes
}

// Set stores p under key for ttl, or the default TTL when ttl is not
// positive. Payloads larger than the entry limit are skipped and Set reports
// false; any older entry under key is dropped so it cannot outlive the write.
func (c *ResultCache) Set(ctx context.Context, key string, p Payload, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.limits.DefaultTTL
	}

	if !c.fits(p) {
		c.logger.WithFields(map[string]interface{}{
			"key":  key,
			"size": len(p.Data),
		}).Debug("Skipping oversized cache entry")

		c.mu.Lock()
		c.entries.Remove(key)
		c.metrics.CacheSize(c.totalBytes, c.entries.Len())
		c.mu.Unlock()

		if c.backend != nil {
			if err := c.backend.Delete(ctx, key); err != nil {
				c.logger.WithError(err).WithField("key", key).Warn("Failed to delete cache backend entry")
			}
		}

		return false
	}

	c.mu.Lock()
	c.storeLocked(key, p, ttl)
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Set(ctx, key, p, ttl); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to write cache backend")
		}
	}

	return true
}

func (c *ResultCache) storeLocked(key string, p Payload, ttl time.Duration) {
	now := c.now()
	e := &Entry{
		Key:        key,
		Data:       p.Data,
		RowCount:   p.RowCount,
		SizeBytes:  int64(len(p.Data)),
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
		value:      p.Value,
	}

	// replacing a key does not fire the eviction callback, so remove first
	c.entries.Remove(key)

	c.totalBytes += e.SizeBytes
	if c.entries.Add(key, e) {
		c.evictions++
		c.metrics.CacheEviction()
	}

	c.enforceSize()
	c.metrics.CacheSize(c.totalBytes, c.entries.Len())
}

// enforceSize drops least-recently-accessed entries until the budget holds.
// The newest entry is never dropped.
func (c *ResultCache) enforceSize() {
	if c.limits.MaxTotalBytes <= 0 {
		return
	}

	for c.totalBytes > c.limits.MaxTotalBytes && c.entries.Len() > 1 {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			return
		}

		c.evictions++
		c.metrics.CacheEviction()
	}
}

type flightResult struct {
	payload Payload
	cached  bool
}

// GetOrCompute returns the entry for key, computing it with fn on a miss.
// Concurrent callers for the same key share one computation. The computation
// runs under the cache's compute timeout and is not cancelled when a caller
// gives up; that caller gets a timeout error while the others still receive
// the result. The boolean reports whether the result came from the cache.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn func(ctx context.Context) (Payload, error),
) (Payload, bool, error) {
	if p, ok := c.Get(ctx, key); ok {
		return p, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// a flight that finished between our Get and DoChan already stored it
		if p, ok := c.getLocal(key, false); ok {
			return flightResult{payload: p, cached: true}, nil
		}

		c.mu.Lock()
		generation := c.generation
		c.mu.Unlock()

		detached := context.WithoutCancel(ctx)
		computeCtx, cancel := context.WithTimeout(detached, c.limits.ComputeTimeout)
		defer cancel()

		p, err := fn(computeCtx)
		if err != nil {
			if computeCtx.Err() != nil {
				if ctxErr := apperrors.FromContext(computeCtx.Err(), "cache computation"); ctxErr != nil {
					return nil, ctxErr
				}
			}

			return nil, err
		}

		c.mu.Lock()
		stale := c.generation != generation
		c.mu.Unlock()

		if p.Data != nil && !stale {
			c.Set(detached, key, p, ttl)
		}

		return flightResult{payload: p}, nil
	})

	select {
	case <-ctx.Done():
		if err := apperrors.FromContext(ctx.Err(), "waiting for cached result"); err != nil {
			return Payload{}, false, err
		}

		return Payload{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Payload{}, false, res.Err
		}

		fr := res.Val.(flightResult)

		return fr.payload, fr.cached, nil
	}
}

// Invalidate removes every entry whose key starts with prefix and returns how
// many were removed. An empty prefix clears the cache.
func (c *ResultCache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.Lock()
	removed := 0

	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
			removed++
		}
	}

	c.generation++
	c.metrics.CacheSize(c.totalBytes, c.entries.Len())
	c.mu.Unlock()

	if c.backend != nil {
		n, err := c.backend.Invalidate(ctx, prefix)
		if err != nil {
			c.logger.WithError(err).WithField("prefix", prefix).Warn("Failed to invalidate cache backend")
		} else if n > removed {
			removed = n
		}
	}

	c.logger.WithFields(map[string]interface{}{"prefix": prefix, "removed": removed}).Debug("Invalidated cache entries")

	return removed
}

// Stats returns current counters
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		TotalBytes: c.totalBytes,
		EntryCount: c.entries.Len(),
	}

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}

	return s
}

// CachedQueries lists live entries, newest first
func (c *ResultCache) CachedQueries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	infos := make([]EntryInfo, 0, c.entries.Len())

	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}

		remaining := e.expiresAt().Sub(now)
		if remaining <= 0 {
			c.entries.Remove(key)
			continue
		}

		source, _, _ := strings.Cut(key, ":")
		infos = append(infos, EntryInfo{
			Key:       key,
			Source:    source,
			RowCount:  e.RowCount,
			SizeBytes: e.SizeBytes,
			CreatedAt: e.CreatedAt,
			Remaining: remaining,
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos
}

// Cleanup removes expired entries and returns how many were dropped
func (c *ResultCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !now.Before(e.expiresAt()) {
			c.entries.Remove(key)
			removed++
		}
	}

	if removed > 0 {
		c.metrics.CacheSize(c.totalBytes, c.entries.Len())
	}

	return removed
}

func (c *ResultCache) backgroundCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				c.logger.WithField("removed", n).Debug("Removed expired cache entries")
			}
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the janitor and closes the backend
func (c *ResultCache) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.stopCleanup)

		if c.backend != nil {
			err = c.backend.Close()
		}
	})

	return err
}
