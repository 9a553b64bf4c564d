package deals

import (
	"testing"

	"bookfinder/internal/adapter"
	"bookfinder/internal/store"
)

func ceiling(v float64) *float64 { return &v }
func ship(v float64) *float64    { return &v }

func TestFind_TitleMatchUnderCeiling(t *testing.T) {
	t.Parallel()

	entries := []store.WishlistEntry{
		{ID: 1, Title: "Dune", MaxPrice: ceiling(20.00)},
	}
	quotes := []adapter.Quote{
		{Title: "Dune (Deluxe Edition)", Price: 15.00, Source: "A"},
		{Title: "Dune (Deluxe Edition)", Price: 25.00, Source: "B"},
	}

	got := Find(entries, quotes)
	if len(got) != 1 {
		t.Fatalf("want 1 deal, got %d: %+v", len(got), got)
	}
	if got[0].Quote.Source != "A" {
		t.Fatalf("wrong quote matched: %+v", got[0])
	}
}

func TestFind_ShippingCountsTowardCeiling(t *testing.T) {
	t.Parallel()

	entries := []store.WishlistEntry{
		{Title: "Dune", MaxPrice: ceiling(20.00)},
	}
	quotes := []adapter.Quote{
		{Title: "Dune", Price: 19.00, Shipping: ship(2.00), Source: "A"},
		{Title: "Dune", Price: 18.00, Shipping: ship(2.00), Source: "B"},
	}

	got := Find(entries, quotes)
	if len(got) != 1 || got[0].Quote.Source != "B" {
		t.Fatalf("effective price must include shipping: %+v", got)
	}
}

func TestFind_ISBNMatchIgnoresTitle(t *testing.T) {
	t.Parallel()

	entries := []store.WishlistEntry{
		{Title: "completely different words", ISBN: "9780441172719", MaxPrice: ceiling(10.00)},
	}
	quotes := []adapter.Quote{
		{Title: "Dune", ISBN: "9780441172719", Price: 9.00, Source: "A"},
		{Title: "Dune", ISBN: "9999999999999", Price: 1.00, Source: "B"},
	}

	got := Find(entries, quotes)
	if len(got) != 1 || got[0].Quote.Source != "A" {
		t.Fatalf("want the ISBN match only: %+v", got)
	}
}

func TestFind_SkipsUnpricedQuotesAndUncappedEntries(t *testing.T) {
	t.Parallel()

	entries := []store.WishlistEntry{
		{Title: "Dune"}, // no ceiling, never matches
		{Title: "Dune", MaxPrice: ceiling(20.00)},
	}
	quotes := []adapter.Quote{
		{Title: "Dune", Price: 0, Source: "OpenLibrary"},
		{Title: "Dune", Price: 5.00, Source: "A"},
	}

	got := Find(entries, quotes)
	if len(got) != 1 || got[0].Quote.Source != "A" {
		t.Fatalf("unpriced quotes and uncapped entries must be skipped: %+v", got)
	}
}

func TestFind_OrderAndNoDedup(t *testing.T) {
	t.Parallel()

	entries := []store.WishlistEntry{
		{ID: 1, Title: "dune", MaxPrice: ceiling(50.00)},
		{ID: 2, Title: "Dune Messiah", MaxPrice: ceiling(50.00)},
	}
	quotes := []adapter.Quote{
		{Title: "Dune Messiah", Price: 12.00, Source: "A"},
		{Title: "Dune", Price: 8.00, Source: "B"},
	}

	got := Find(entries, quotes)
	// Entry 1's title "dune" is a substring of both quote titles, so it
	// matches twice; entry 2 matches the first quote again. No dedup.
	if len(got) != 3 {
		t.Fatalf("want 3 deals, got %d: %+v", len(got), got)
	}
	if got[0].Entry.ID != 1 || got[0].Quote.Source != "A" {
		t.Fatalf("deal 0 out of order: %+v", got[0])
	}
	if got[1].Entry.ID != 1 || got[1].Quote.Source != "B" {
		t.Fatalf("deal 1 out of order: %+v", got[1])
	}
	if got[2].Entry.ID != 2 || got[2].Quote.Source != "A" {
		t.Fatalf("deal 2 out of order: %+v", got[2])
	}
}
