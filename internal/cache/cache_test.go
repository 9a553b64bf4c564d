package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookfinder/internal/adapter"
	"bookfinder/internal/aggregate"
)

func report(elapsed time.Duration) *aggregate.Report {
	return &aggregate.Report{
		CountBySource: map[string]int{"A": 1},
		ErrBySource:   map[string]string{},
		Elapsed:       elapsed,
	}
}

func TestNewKey_NormalizesFreeText(t *testing.T) {
	t.Parallel()

	a := NewKey(adapter.Query{Text: "  The  Left Hand of Darkness ", MaxResults: 5})
	b := NewKey(adapter.Query{Text: "the left hand OF darkness", MaxResults: 5})
	if a != b {
		t.Fatalf("case/whitespace variants should share a key: %+v vs %+v", a, b)
	}

	c := NewKey(adapter.Query{Text: "the left hand of darkness", MaxResults: 10})
	if a == c {
		t.Fatal("different result limits must not share a key")
	}
}

func TestNewKey_DoesNotConflateISBNs(t *testing.T) {
	t.Parallel()

	a := NewKey(adapter.Query{ISBN: "978-0-441-17271-9", MaxResults: 5})
	b := NewKey(adapter.Query{ISBN: "9780441172719", MaxResults: 5})
	if a != b {
		t.Fatalf("hyphenation variants of one ISBN should share a key: %+v vs %+v", a, b)
	}
	if !a.ISBNOnly {
		t.Fatal("ISBN key must be flagged ISBNOnly")
	}

	c := NewKey(adapter.Query{ISBN: "9780441172718", MaxResults: 5})
	if a == c {
		t.Fatal("distinct ISBNs must never share a key")
	}

	// ISBN-10 check digit casing.
	d := NewKey(adapter.Query{ISBN: "080442957x", MaxResults: 5})
	e := NewKey(adapter.Query{ISBN: "080442957X", MaxResults: 5})
	if d != e {
		t.Fatalf("check digit casing should not split keys: %+v vs %+v", d, e)
	}

	// Same term as text vs as ISBN must miss.
	f := NewKey(adapter.Query{Text: "9780441172719", MaxResults: 5})
	if b == f {
		t.Fatal("ISBN mode and text mode must not share a key")
	}
}

func TestGetOrCompute_HitWithinTTLSkipsCompute(t *testing.T) {
	t.Parallel()

	c := New(time.Minute, 10)
	key := NewKey(adapter.Query{Text: "dune", MaxResults: 5})

	var calls atomic.Int32
	compute := func() (*aggregate.Report, error) {
		calls.Add(1)
		return report(123 * time.Millisecond), nil
	}

	first, err := c.GetOrCompute(key, compute)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := c.GetOrCompute(key, compute)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("compute ran %d times, want 1", calls.Load())
	}
	// The cached report is handed back as-is, elapsed included.
	if second != first || second.Elapsed != 123*time.Millisecond {
		t.Fatalf("second call did not return the cached report: %+v", second)
	}
}

func TestGetOrCompute_ExpiredEntryRecomputes(t *testing.T) {
	t.Parallel()

	c := New(30*time.Millisecond, 10)
	key := NewKey(adapter.Query{Text: "dune", MaxResults: 5})

	var calls atomic.Int32
	compute := func() (*aggregate.Report, error) {
		calls.Add(1)
		return report(time.Duration(calls.Load()) * time.Millisecond), nil
	}

	if _, err := c.GetOrCompute(key, compute); err != nil {
		t.Fatalf("first: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	r, err := c.GetOrCompute(key, compute)
	if err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("compute ran %d times, want 2", calls.Load())
	}
	if r.Elapsed != 2*time.Millisecond {
		t.Fatalf("stale report returned: %+v", r)
	}
}

func TestGetOrCompute_EvictsOldestOverCapacity(t *testing.T) {
	t.Parallel()

	const maxItems = 3
	c := New(time.Minute, maxItems)

	keys := []Key{}
	for _, term := range []string{"a", "b", "c", "d"} {
		key := NewKey(adapter.Query{Text: term, MaxResults: 5})
		keys = append(keys, key)
		if _, err := c.GetOrCompute(key, func() (*aggregate.Report, error) {
			return report(time.Millisecond), nil
		}); err != nil {
			t.Fatalf("insert %q: %v", term, err)
		}
		// Keep created_at strictly increasing.
		time.Sleep(2 * time.Millisecond)
	}

	if got := c.Len(); got != maxItems {
		t.Fatalf("want %d entries after eviction, got %d", maxItems, got)
	}
	// The oldest key must have been evicted: looking it up recomputes.
	var recomputed atomic.Int32
	if _, err := c.GetOrCompute(keys[0], func() (*aggregate.Report, error) {
		recomputed.Add(1)
		return report(time.Millisecond), nil
	}); err != nil {
		t.Fatalf("relookup: %v", err)
	}
	if recomputed.Load() != 1 {
		t.Fatal("oldest entry was not evicted")
	}
}

func TestGetOrCompute_FailedComputeStoresNothing(t *testing.T) {
	t.Parallel()

	c := New(time.Minute, 10)
	key := NewKey(adapter.Query{Text: "dune", MaxResults: 5})

	if _, err := c.GetOrCompute(key, func() (*aggregate.Report, error) {
		return nil, errors.New("every source down")
	}); err == nil {
		t.Fatal("compute failure must surface")
	}
	if c.Len() != 0 {
		t.Fatal("failed compute must not poison the cache")
	}

	var calls atomic.Int32
	if _, err := c.GetOrCompute(key, func() (*aggregate.Report, error) {
		calls.Add(1)
		return report(time.Millisecond), nil
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatal("retry after failure should compute again")
	}
}

func TestGetOrCompute_ConcurrentMissesCoalesce(t *testing.T) {
	t.Parallel()

	c := New(time.Minute, 10)
	key := NewKey(adapter.Query{Text: "dune", MaxResults: 5})

	var calls atomic.Int32
	compute := func() (*aggregate.Report, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return report(time.Millisecond), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrCompute(key, compute); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	// Single-flight: identical concurrent misses share one compute.
	if calls.Load() != 1 {
		t.Fatalf("compute ran %d times, want 1", calls.Load())
	}
}
