package jsonld

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"bookfinder/internal/adapter"
	"bookfinder/internal/httpx"
)

// Config controls a generic JSON-LD site adapter.
type Config struct {
	Name              string
	BaseURL           string
	SearchURLTemplate string // must contain a {query} placeholder
}

// Adapter scrapes any site that embeds schema.org Product/Book
// structured data in its search results. One instance per configured
// site; the operator supplies the search URL template.
type Adapter struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Adapter {
	return &Adapter{cfg: cfg, client: hc}
}

func (a *Adapter) Name() string    { return a.cfg.Name }
func (a *Adapter) BaseURL() string { return a.cfg.BaseURL }

var scriptRe = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

func (a *Adapter) Search(ctx context.Context, q adapter.Query) ([]adapter.Quote, error) {
	if !strings.Contains(a.cfg.SearchURLTemplate, "{query}") {
		return nil, fmt.Errorf("jsonld %s: search URL template has no {query} placeholder", a.cfg.Name)
	}
	u := strings.ReplaceAll(a.cfg.SearchURLTemplate, "{query}", url.QueryEscape(strings.TrimSpace(q.Term())))

	resp, err := a.client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	quotes := a.parse(string(body), u)
	if q.MaxResults > 0 && len(quotes) > q.MaxResults {
		quotes = quotes[:q.MaxResults]
	}
	return quotes, nil
}

// IsAvailable probes the site root.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// parse pulls Product/Book offers out of every JSON-LD script block.
// Malformed blocks are skipped, not fatal.
func (a *Adapter) parse(html, pageURL string) []adapter.Quote {
	var out []adapter.Quote
	for _, m := range scriptRe.FindAllStringSubmatch(html, -1) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &data); err != nil {
			continue
		}
		items, ok := data.([]any)
		if !ok {
			items = []any{data}
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := item["@type"].(string); t != "Product" && t != "Book" {
				continue
			}
			out = append(out, a.parseOffers(item, pageURL)...)
		}
	}
	return out
}

func (a *Adapter) parseOffers(item map[string]any, pageURL string) []adapter.Quote {
	var offers []any
	switch v := item["offers"].(type) {
	case map[string]any:
		offers = []any{v}
	case []any:
		offers = v
	default:
		return nil
	}

	title, _ := item["name"].(string)
	if title == "" {
		title = "Unknown"
	}

	var out []adapter.Quote
	for _, raw := range offers {
		offer, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		price, ok := offerPrice(offer)
		if !ok {
			continue
		}

		condition := adapter.ConditionUnknown
		if c, _ := offer["itemCondition"].(string); strings.Contains(c, "New") {
			condition = adapter.ConditionNew
		} else if strings.Contains(c, "Used") {
			condition = adapter.ConditionUsed
		}

		currency, _ := offer["priceCurrency"].(string)
		if currency == "" {
			currency = "USD"
		}
		u, _ := offer["url"].(string)
		if u == "" {
			u = pageURL
		}

		out = append(out, adapter.Quote{
			Title:     title,
			Author:    extractAuthor(item),
			Price:     price,
			Currency:  currency,
			Condition: condition,
			Source:    a.cfg.Name,
			URL:       u,
			ISBN:      extractISBN(item),
		})
	}
	return out
}

// offerPrice accepts price or lowPrice, as a JSON number or string.
func offerPrice(offer map[string]any) (float64, bool) {
	for _, key := range []string{"price", "lowPrice"} {
		switch v := offer[key].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func extractAuthor(item map[string]any) string {
	switch v := item["author"].(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if name, _ := v["name"].(string); name != "" {
			return name
		}
	case []any:
		var names []string
		for _, e := range v {
			switch a := e.(type) {
			case string:
				names = append(names, a)
			case map[string]any:
				if name, _ := a["name"].(string); name != "" {
					names = append(names, name)
				}
			}
		}
		if len(names) > 0 {
			return strings.Join(names, ", ")
		}
	}
	return "Unknown"
}

func extractISBN(item map[string]any) string {
	isbn, _ := item["isbn"].(string)
	return isbn
}
