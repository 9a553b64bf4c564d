package deals

import (
	"strings"

	"bookfinder/internal/adapter"
	"bookfinder/internal/store"
)

// Deal pairs a wishlist entry with a quote at or under its ceiling.
type Deal struct {
	Entry store.WishlistEntry
	Quote adapter.Quote
}

// Find matches aggregated quotes against wishlist entries that carry a
// price ceiling. A quote matches an entry when the ISBNs are equal
// (both non-empty) or the entry title appears case-insensitively in
// the quote title, and the effective price is within the ceiling.
// Unpriced quotes never match. A quote matching several entries
// appears once per entry; output follows entry order, then quote
// order.
func Find(entries []store.WishlistEntry, quotes []adapter.Quote) []Deal {
	var out []Deal
	for _, e := range entries {
		if e.MaxPrice == nil {
			continue
		}
		title := strings.ToLower(e.Title)
		for _, q := range quotes {
			total := q.EffectivePrice()
			if total <= 0 {
				continue
			}
			isbnMatch := e.ISBN != "" && e.ISBN == q.ISBN
			titleMatch := title != "" && strings.Contains(strings.ToLower(q.Title), title)
			if (isbnMatch || titleMatch) && total <= *e.MaxPrice {
				out = append(out, Deal{Entry: e, Quote: q})
			}
		}
	}
	return out
}
