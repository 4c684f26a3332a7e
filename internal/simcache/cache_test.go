// v1
// internal/simcache/cache_test.go
package simcache

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/atlarge-research/opendt/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okResult(kwh float64) model.SimulationResult {
	return model.SimulationResult{Status: model.StatusOK, EnergyKWh: kwh}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4, testLogger())
	key := Key{TopologyFingerprint: "fp-a", TaskCount: 10}
	c.Put(key, c.Generation(), "window-3", okResult(1.5))

	res, runID, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if res.EnergyKWh != 1.5 || runID != "window-3" {
		t.Fatalf("entry corrupted: %+v via %s", res, runID)
	}
	if _, _, ok := c.Get(Key{TopologyFingerprint: "fp-a", TaskCount: 11}); ok {
		t.Fatal("count is part of the key")
	}
	if _, _, ok := c.Get(Key{TopologyFingerprint: "fp-b", TaskCount: 10}); ok {
		t.Fatal("fingerprint is part of the key")
	}
}

func TestFailedResultsNeverCached(t *testing.T) {
	c := New(4, testLogger())
	key := Key{TopologyFingerprint: "fp", TaskCount: 1}
	c.Put(key, c.Generation(), "window-0", model.ErrorResult("boom"))
	if _, _, ok := c.Get(key); ok {
		t.Fatal("error result cached")
	}
}

func TestBumpDropsEverything(t *testing.T) {
	c := New(8, testLogger())
	for i := 0; i < 5; i++ {
		c.Put(Key{TopologyFingerprint: "fp", TaskCount: i}, c.Generation(), fmt.Sprintf("window-%d", i), okResult(1))
	}
	if c.Len() != 5 {
		t.Fatalf("setup: %d entries", c.Len())
	}
	gen := c.Bump()
	if c.Len() != 0 {
		t.Fatalf("entries survived invalidation: %d", c.Len())
	}
	if gen != c.Generation() || gen == 0 {
		t.Fatalf("generation not advanced: %d", gen)
	}
}

func TestStaleGenerationPutDropped(t *testing.T) {
	c := New(4, testLogger())
	key := Key{TopologyFingerprint: "fp", TaskCount: 1}
	stale := c.Generation()
	c.Bump()
	// A simulation that started before the topology change finishes late.
	c.Put(key, stale, "window-0", okResult(1))
	if _, _, ok := c.Get(key); ok {
		t.Fatal("stale put poisoned the fresh cache")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2, testLogger())
	k := func(i int) Key { return Key{TopologyFingerprint: "fp", TaskCount: i} }
	c.Put(k(1), 0, "window-1", okResult(1))
	c.Put(k(2), 0, "window-2", okResult(2))
	// Touch 1 so 2 becomes the eviction candidate.
	if _, _, ok := c.Get(k(1)); !ok {
		t.Fatal("setup: missing entry 1")
	}
	c.Put(k(3), 0, "window-3", okResult(3))

	if _, _, ok := c.Get(k(2)); ok {
		t.Fatal("least recently used entry survived")
	}
	if _, _, ok := c.Get(k(1)); !ok {
		t.Fatal("recently used entry evicted")
	}
	if _, _, ok := c.Get(k(3)); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestPutOverwritesExisting(t *testing.T) {
	c := New(4, testLogger())
	key := Key{TopologyFingerprint: "fp", TaskCount: 1}
	c.Put(key, 0, "window-0", okResult(1))
	c.Put(key, 0, "window-9", okResult(9))
	res, runID, ok := c.Get(key)
	if !ok || res.EnergyKWh != 9 || runID != "window-9" {
		t.Fatalf("overwrite lost: %+v via %s", res, runID)
	}
	if c.Len() != 1 {
		t.Fatalf("duplicate entries: %d", c.Len())
	}
}
