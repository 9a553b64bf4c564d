package openlibrary

import (
	"context"
	"strings"

	"bookfinder/internal/adapter"
)

// Config controls the Open Library adapter.
type Config struct {
	Name     string // display name, default: Open Library
	Currency string // currency stamped on quotes, default USD
}

// Adapter exposes Open Library as a quote source. The catalog has no
// prices, so every quote is zero-priced metadata: useful for finding
// ISBNs to feed back into priced sources, and it always sorts after
// priced quotes.
type Adapter struct {
	cfg    Config
	client *Client
}

func New(cfg Config, client *Client) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "Open Library"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string    { return a.cfg.Name }
func (a *Adapter) BaseURL() string { return a.client.BaseURL() }

func (a *Adapter) Search(ctx context.Context, q adapter.Query) ([]adapter.Quote, error) {
	limit := q.MaxResults
	if limit <= 0 {
		limit = 5
	}
	docs, err := a.client.SearchBooks(ctx, q.Term(), q.ISBN != "", limit)
	if err != nil {
		return nil, err
	}

	quotes := make([]adapter.Quote, 0, len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "Unknown"
		}
		author := "Unknown"
		if len(d.AuthorName) > 0 {
			author = strings.Join(d.AuthorName, ", ")
		}
		isbn := ""
		if len(d.ISBN) > 0 {
			isbn = d.ISBN[0]
		}
		quotes = append(quotes, adapter.Quote{
			Title:     title,
			Author:    author,
			Price:     0, // lending catalog, no price
			Currency:  a.cfg.Currency,
			Condition: adapter.ConditionUnknown,
			Source:    a.cfg.Name,
			URL:       a.client.BaseURL() + d.Key,
			ISBN:      isbn,
		})
	}
	return quotes, nil
}

// IsAvailable probes the API with a one-hit search.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.SearchBooks(ctx, "the", false, 1)
	return err == nil
}
