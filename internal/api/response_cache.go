package api

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"condoscan/internal/query"
)

// resultCache is an in-process LRU for aggregation results, keyed by
// (endpoint, canonical-params-JSON). Eviction is by total payload bytes and
// per-entry TTL. Promotion flushes it wholesale: after new rows land, every
// cached aggregate is stale.
type resultCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	curBytes int64
	maxBytes int64
	ttl      time.Duration
}

type cacheEntry struct {
	key       string
	result    *query.Result
	size      int64
	expiresAt time.Time
}

func newResultCache(maxBytes int64, ttl time.Duration) *resultCache {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &resultCache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		maxBytes: maxBytes,
		ttl:      ttl,
	}
}

// cacheKey derives the canonical cache key for a request. The params are
// already validated; their canonical serialization ignores the original
// query-string ordering and spelling.
func cacheKey(endpoint string, p *query.Params) string {
	canon := struct {
		GroupBy []string       `json:"group_by"`
		Metrics []string       `json:"metrics"`
		Units   bool           `json:"units"`
		Filters map[string]any `json:"filters"`
		Limit   int            `json:"limit"`
	}{
		GroupBy: p.GroupBy,
		Metrics: p.Metrics,
		Units:   p.WantUnits,
		Filters: p.Filters.Applied(),
		Limit:   p.Filters.Limit,
	}
	b, _ := json.Marshal(canon) // map keys marshal sorted
	return endpoint + "?" + string(b)
}

func (c *resultCache) get(key string) (*query.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if time.Now().After(ent.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	c.lru.MoveToFront(el)

	// Copy the result so the cache_hit annotation never leaks into the
	// stored entry. Row maps are shared read-only.
	res := *ent.result
	res.Meta.CacheHit = true
	return &res, true
}

func (c *resultCache) set(key string, res *query.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	size := int64(len(payload))
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	ent := &cacheEntry{key: key, result: res, size: size, expiresAt: time.Now().Add(c.ttl)}
	c.entries[key] = c.lru.PushFront(ent)
	c.curBytes += size

	for c.curBytes > c.maxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *resultCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.curBytes = 0
}

func (c *resultCache) removeLocked(el *list.Element) {
	ent := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, ent.key)
	c.curBytes -= ent.size
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
