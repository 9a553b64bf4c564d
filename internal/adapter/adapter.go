package adapter

import (
	"context"
	"strings"
)

// Condition describes the offered copy.
type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionUsed    Condition = "used"
	ConditionUnknown Condition = "unknown"
)

// ParseCondition maps stored/scraped strings onto a Condition,
// defaulting to unknown.
func ParseCondition(s string) Condition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return ConditionNew
	case "used":
		return ConditionUsed
	default:
		return ConditionUnknown
	}
}

// Query is what the user is searching for. When ISBN is set it is the
// effective search key and Text is ignored by adapters.
type Query struct {
	Text       string
	ISBN       string
	MaxResults int
}

// Term returns the effective search key.
func (q Query) Term() string {
	if q.ISBN != "" {
		return q.ISBN
	}
	return q.Text
}

// Quote is one price observation from one source, normalized across
// all adapters. Shipping nil means the source did not state it.
type Quote struct {
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Price     float64   `json:"price"`
	Shipping  *float64  `json:"shipping,omitempty"`
	Currency  string    `json:"currency"`
	Condition Condition `json:"condition"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	ISBN      string    `json:"isbn,omitempty"`
}

// EffectivePrice is price plus shipping, the canonical ranking value.
func (q Quote) EffectivePrice() float64 {
	if q.Shipping != nil {
		return q.Price + *q.Shipping
	}
	return q.Price
}

// Adapter is the capability a single external source implements.
// Name must be unique across the active adapter set; it keys the
// per-source maps in an aggregation report.
type Adapter interface {
	Name() string
	BaseURL() string
	Search(ctx context.Context, q Query) ([]Quote, error)
}

// Prober is an optional health probe. Adapters that do not implement
// it are treated as always available.
type Prober interface {
	IsAvailable(ctx context.Context) bool
}

// Available reports whether a is reachable, defaulting to true when
// the adapter has no probe.
func Available(ctx context.Context, a Adapter) bool {
	if p, ok := a.(Prober); ok {
		return p.IsAvailable(ctx)
	}
	return true
}

// Filter returns the subset of adapters whose names (case-insensitive)
// appear in wanted. An empty wanted list returns all adapters.
func Filter(adapters []Adapter, wanted []string) []Adapter {
	if len(wanted) == 0 {
		return adapters
	}
	want := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			want[w] = struct{}{}
		}
	}
	out := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if _, ok := want[strings.ToLower(a.Name())]; ok {
			out = append(out, a)
		}
	}
	return out
}
