// Package cache provides response-level memoization for the Model
// Integration Layer: an LRU with per-entry TTL, fingerprinted on the
// request content, with in-flight de-duplication so concurrent identical
// requests share one upstream call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/mil"
)

type entry struct {
	resp      mil.Response
	expiresAt time.Time
}

// Cache memoizes mil.Response by request fingerprint.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, entry]
	ttl     time.Duration
	clock   clock.Clock
	flight  singleflight.Group
	hits    int64
	misses  int64
}

// New builds a Cache holding up to size entries, each valid for ttl.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = 512
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl, clock: clock.System}, nil
}

// Fingerprint computes the cache key for a request: sha256 over the
// model id, prompt/messages, system prompt, max tokens, and temperature.
// Temperature is included deliberately — a request asking for randomness
// must not share a cache slot with a deterministic one.
func Fingerprint(modelID string, req mil.Request) string {
	if req.Fingerprint != "" {
		return req.Fingerprint
	}
	payload := struct {
		Model       string
		Prompt      string
		Messages    []mil.Message
		System      string
		MaxTokens   int
		Temperature float64
	}{
		Model:       modelID,
		Prompt:      req.Prompt,
		Messages:    req.Messages,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Get returns a cached response for key if present and unexpired. A hit
// reports the lookup's own wall time as LatencyMS and zeroes CostUSD: the
// caller didn't pay the provider again, so it shouldn't be billed again.
func (c *Cache) Get(key string) (mil.Response, bool) {
	start := c.clock.Now()
	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return mil.Response{}, false
	}
	if c.clock.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.misses++
		c.mu.Unlock()
		return mil.Response{}, false
	}
	c.hits++
	resp := e.resp
	c.mu.Unlock()

	resp.WasCached = true
	resp.CostUSD = 0
	resp.LatencyMS = float64(c.clock.Now().Sub(start).Microseconds()) / 1000.0
	return resp, true
}

// Set stores resp under key with the cache's configured TTL. Temperature
// >= a near-deterministic threshold is the caller's business; Set stores
// what it's given, except that a cache built with a TTL <= 0 stores
// nothing.
func (c *Cache) Set(key string, resp mil.Response) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{resp: resp, expiresAt: c.clock.Now().Add(c.ttl)})
}

// GetOrLoad returns the cached response for key, or calls load exactly
// once across all concurrent callers sharing the same key, caching and
// returning its result. The final bool reports whether this call got the
// value from the TTL cache (true) versus a fresh or deduped load (false).
func (c *Cache) GetOrLoad(key string, load func() (mil.Response, error)) (mil.Response, error, bool) {
	if resp, ok := c.Get(key); ok {
		return resp, nil, true
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		resp, err := load()
		if err != nil {
			return mil.Response{}, err
		}
		c.Set(key, resp)
		return resp, nil
	})
	if err != nil {
		return mil.Response{}, err, false
	}
	return v.(mil.Response), nil, false
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
