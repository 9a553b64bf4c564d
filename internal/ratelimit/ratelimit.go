package ratelimit

import (
	"sync"
	"time"
)

// DefaultMinInterval is the cooldown between searches from one client.
const DefaultMinInterval = 5 * time.Second

// Cooldown enforces a minimum interval between requests from the same
// client identity. It is a pure decision function plus a timestamp
// write and never blocks.
//
// The timestamp is written only on allowed calls, so a burst of denied
// requests does not extend the window. Identities are never evicted;
// the map grows with the distinct client population.
type Cooldown struct {
	MinInterval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown(minInterval time.Duration) *Cooldown {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Cooldown{MinInterval: minInterval, last: make(map[string]time.Time)}
}

// Allow reports whether a request from clientID at now may proceed,
// and on true records now as the client's last allowed request.
func (c *Cooldown) Allow(clientID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[clientID]; ok && now.Sub(last) < c.MinInterval {
		return false
	}
	c.last[clientID] = now
	return true
}

// Len reports how many client identities are being tracked.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
