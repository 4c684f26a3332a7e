// v3
// internal/simcache/cache.go
//
// Result cache for cumulative-replay simulations. The key is the pair
// (topology fingerprint, cumulative task count): with an append-only
// task log and a fixed topology that pair fully determines the
// simulator's output. Adopting a calibrated topology bumps the
// generation and drops every cached entry at once; puts computed under
// an older generation are discarded so a slow in-flight simulation
// cannot poison the fresh cache.
package simcache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
)

// Key identifies one cumulative simulation.
type Key struct {
	TopologyFingerprint string
	TaskCount           int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.TopologyFingerprint, k.TaskCount)
}

type entry struct {
	key   Key
	runID string
	res   model.SimulationResult
}

// Cache is a bounded LRU keyed by Key, safe for concurrent use.
type Cache struct {
	lg  *slog.Logger
	cap int

	mu         sync.Mutex
	generation uint64
	order      *list.List
	items      map[Key]*list.Element
}

func New(capacity int, lg *slog.Logger) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		lg:    lg,
		cap:   capacity,
		order: list.New(),
		items: map[Key]*list.Element{},
	}
}

// Generation returns the current topology generation. Callers snapshot
// it before starting a simulation and pass it back to Put.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Bump invalidates the whole cache. Called when the calibrated topology
// changes; every cached result was produced against the old topology.
func (c *Cache) Bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	n := c.order.Len()
	c.order.Init()
	c.items = map[Key]*list.Element{}
	c.lg.Info("result cache invalidated", "generation", c.generation, "dropped", n)
	return c.generation
}

// Get returns the cached result for key and the run id that produced
// it, marking the entry most recently used.
func (c *Cache) Get(key Key) (model.SimulationResult, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return model.SimulationResult{}, "", false
	}
	c.order.MoveToFront(el)
	metrics.CacheHits.Inc()
	e := el.Value.(*entry)
	return e.res, e.runID, true
}

// Put stores a result computed under generation. A stale generation is
// a no-op; only successful results are cached.
func (c *Cache) Put(key Key, generation uint64, runID string, res model.SimulationResult) {
	if !res.OK() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		metrics.IntegrityWarnings.Inc()
		c.lg.Warn("stale cache put dropped", "key", key.String(), "putGeneration", generation, "generation", c.generation)
		return
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.res = res
		e.runID = runID
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&entry{key: key, runID: runID, res: res})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
