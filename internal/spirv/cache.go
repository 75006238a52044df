package spirv

import (
	"cmp"
	"hash/fnv"
	"slices"
	"sync"
)

// compileCacheLimit bounds the number of compiled WGSL modules kept.
const compileCacheLimit = 64

// CacheStats reports compile cache usage.
type CacheStats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// moduleCache holds compiled modules keyed by source hash. When it grows
// past limit the least recently used quarter is evicted.
type moduleCache struct {
	mu      sync.Mutex
	entries map[uint64]*cachedModule
	limit   int
	tick    int64

	hits, misses, evictions uint64
}

type cachedModule struct {
	source string
	words  []uint32
	atime  int64
}

func newModuleCache(limit int) *moduleCache {
	return &moduleCache{entries: make(map[uint64]*cachedModule), limit: limit}
}

var wgslCache = newModuleCache(compileCacheLimit)

func sourceKey(source string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	return h.Sum64()
}

// get returns a copy of the words compiled from source.
func (c *moduleCache) get(source string) ([]uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sourceKey(source)]
	if !ok || e.source != source {
		c.misses++
		return nil, false
	}
	c.hits++
	c.tick++
	e.atime = c.tick
	return slices.Clone(e.words), true
}

func (c *moduleCache) put(source string, words []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	c.entries[sourceKey(source)] = &cachedModule{
		source: source,
		words:  slices.Clone(words),
		atime:  c.tick,
	}
	if c.limit > 0 && len(c.entries) > c.limit {
		c.evictLocked()
	}
}

func (c *moduleCache) evictLocked() {
	target := max(c.limit*3/4, 1)
	type aged struct {
		key   uint64
		atime int64
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.atime})
	}
	slices.SortFunc(all, func(a, b aged) int { return cmp.Compare(a.atime, b.atime) })
	for _, a := range all[:len(all)-target] {
		delete(c.entries, a.key)
		c.evictions++
	}
}

func (c *moduleCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *moduleCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.tick, c.hits, c.misses, c.evictions = 0, 0, 0, 0
}

// CompileCacheStats reports the WGSL compile cache usage.
func CompileCacheStats() CacheStats { return wgslCache.stats() }

// ResetCompileCache drops every cached module and zeroes the counters.
func ResetCompileCache() { wgslCache.reset() }
