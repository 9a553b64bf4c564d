package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bookfinder/internal/adapter"
	"bookfinder/internal/aggregate"
)

const (
	DefaultTTL      = 300 * time.Second
	DefaultMaxItems = 50
)

// Key identifies one cacheable search. Build it with NewKey so two
// spellings of the same free-text query share an entry.
type Key struct {
	Term       string
	MaxResults int
	ISBNOnly   bool
}

// NewKey normalizes a query into its cache key. Free text is
// lower-cased with whitespace collapsed; ISBNs are only stripped of
// hyphens/spaces (check digit upper-cased) so distinct identifiers are
// never conflated.
func NewKey(q adapter.Query) Key {
	if q.ISBN != "" {
		return Key{Term: normalizeISBN(q.ISBN), MaxResults: q.MaxResults, ISBNOnly: true}
	}
	return Key{Term: normalizeText(q.Text), MaxResults: q.MaxResults, ISBNOnly: false}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeISBN(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if strings.HasSuffix(s, "x") {
		s = s[:len(s)-1] + "X"
	}
	return s
}

type entry struct {
	createdAt time.Time
	report    *aggregate.Report
}

// Search memoizes aggregation reports for a bounded time window with
// bounded capacity. Concurrent misses for the same key are coalesced
// into a single computation.
type Search struct {
	ttl      time.Duration
	maxItems int

	mu    sync.Mutex
	items map[Key]entry
	sf    singleflight.Group
}

func New(ttl time.Duration, maxItems int) *Search {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Search{ttl: ttl, maxItems: maxItems, items: make(map[Key]entry, maxItems)}
}

// GetOrCompute returns the cached report for key when it is younger
// than the TTL, otherwise invokes compute and stores the result. A
// failed compute stores nothing.
func (c *Search) GetOrCompute(key Key, compute func() (*aggregate.Report, error)) (*aggregate.Report, error) {
	if r, ok := c.lookup(key); ok {
		return r, nil
	}

	v, err, _ := c.sf.Do(sfKey(key), func() (any, error) {
		// Another flight may have filled the entry while we queued.
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		r, err := compute()
		if err != nil {
			return nil, err
		}
		c.store(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*aggregate.Report), nil
}

// Len reports how many entries are currently held, expired or not.
func (c *Search) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Search) lookup(key Key) (*aggregate.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) >= c.ttl {
		// Lazy expiry: stale entries die on lookup.
		delete(c.items, key)
		return nil, false
	}
	return e.report, true
}

func (c *Search) store(key Key, r *aggregate.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{createdAt: time.Now(), report: r}
	if len(c.items) <= c.maxItems {
		return
	}
	// Over capacity: evict the single oldest entry.
	var oldest Key
	var oldestAt time.Time
	first := true
	for k, e := range c.items {
		if first || e.createdAt.Before(oldestAt) {
			oldest, oldestAt, first = k, e.createdAt, false
		}
	}
	delete(c.items, oldest)
}

func sfKey(k Key) string {
	return fmt.Sprintf("%s|%d|%t", k.Term, k.MaxResults, k.ISBNOnly)
}
