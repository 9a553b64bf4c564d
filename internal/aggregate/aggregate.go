package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bookfinder/internal/adapter"
)

// Options tunes a single aggregation run.
type Options struct {
	// SourceTimeout bounds each adapter's Search call. Zero means no
	// per-source limit; a stalled source then delays the whole run.
	SourceTimeout time.Duration
}

// Report is the outcome of one aggregation run. It is never mutated
// after Run returns and is safe to share across readers.
type Report struct {
	// Quotes is ordered cheapest-first by effective price, with
	// free/unpriced quotes after all priced ones.
	Quotes []adapter.Quote `json:"quotes"`
	// CountBySource has one entry per adapter that completed.
	CountBySource map[string]int `json:"counts"`
	// ErrBySource has one entry per adapter that failed. A report with
	// no quotes and a non-empty error map is not the same thing as a
	// search that legitimately found nothing.
	ErrBySource map[string]string `json:"errors"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Run queries every adapter concurrently and merges the union into one
// ranked result set. A failing (or panicking) adapter contributes an
// entry in ErrBySource and nothing else; it never affects the other
// sources or the call itself.
func Run(ctx context.Context, q adapter.Query, adapters []adapter.Adapter, opts Options) (*Report, error) {
	if len(adapters) == 0 {
		return nil, errors.New("aggregate: no adapters")
	}

	start := time.Now()

	type unit struct {
		name   string
		quotes []adapter.Quote
		err    error
	}

	// Each adapter writes exactly one unit; nothing is shared until
	// the join below.
	ch := make(chan unit, len(adapters))
	for _, a := range adapters {
		go func(a adapter.Adapter) {
			u := unit{name: a.Name()}
			defer func() {
				if r := recover(); r != nil {
					u.quotes = nil
					u.err = fmt.Errorf("panic: %v", r)
				}
				ch <- u
			}()
			sctx := ctx
			if opts.SourceTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, opts.SourceTimeout)
				defer cancel()
			}
			u.quotes, u.err = a.Search(sctx, q)
		}(a)
	}

	r := &Report{
		CountBySource: make(map[string]int, len(adapters)),
		ErrBySource:   make(map[string]string),
	}
	for range adapters {
		u := <-ch
		if u.err != nil {
			r.ErrBySource[u.name] = u.err.Error()
			continue
		}
		r.CountBySource[u.name] = len(u.quotes)
		r.Quotes = append(r.Quotes, u.quotes...)
	}

	// Cheapest first; zero/negative-priced quotes sort after every
	// priced one but are never dropped here. Stable so equal keys keep
	// their concatenation order.
	sort.SliceStable(r.Quotes, func(i, j int) bool {
		pi, pj := r.Quotes[i].EffectivePrice(), r.Quotes[j].EffectivePrice()
		fi, fj := pi <= 0, pj <= 0
		if fi != fj {
			return fj
		}
		if fi {
			return false
		}
		return pi < pj
	})

	r.Elapsed = time.Since(start)
	return r, nil
}

// QuotesOnly runs an aggregation and discards the report metadata.
func QuotesOnly(ctx context.Context, q adapter.Query, adapters []adapter.Adapter, opts Options) ([]adapter.Quote, error) {
	r, err := Run(ctx, q, adapters, opts)
	if err != nil {
		return nil, err
	}
	return r.Quotes, nil
}
