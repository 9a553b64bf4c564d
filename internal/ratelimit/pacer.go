package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"bookfinder/internal/adapter"
)

// Pacer wraps an adapter and paces its outbound searches with a token
// bucket, so a chatty caller cannot hammer the underlying site.
// Search blocks until a token is available or the context is done.
type Pacer struct {
	A       adapter.Adapter
	Limiter *rate.Limiter
}

// NewPacer allows ratePerSec requests sustained with the given burst.
func NewPacer(a adapter.Adapter, ratePerSec float64, burst int) *Pacer {
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{A: a, Limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

func (p *Pacer) Name() string    { return p.A.Name() }
func (p *Pacer) BaseURL() string { return p.A.BaseURL() }

func (p *Pacer) Search(ctx context.Context, q adapter.Query) ([]adapter.Quote, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return p.A.Search(ctx, q)
}

// IsAvailable forwards to the wrapped adapter's probe when it has one.
func (p *Pacer) IsAvailable(ctx context.Context) bool {
	return adapter.Available(ctx, p.A)
}
