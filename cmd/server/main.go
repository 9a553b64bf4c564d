package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bookfinder/internal/adapter"
	"bookfinder/internal/adapter/jsonld"
	"bookfinder/internal/adapter/openlibrary"
	"bookfinder/internal/aggregate"
	"bookfinder/internal/cache"
	"bookfinder/internal/config"
	"bookfinder/internal/deals"
	"bookfinder/internal/httpx"
	"bookfinder/internal/ratelimit"
	"bookfinder/internal/store"
)

// app holds the shared handles the handlers need. Constructed once in
// main, passed explicitly; no globals.
type app struct {
	adapters []adapter.Adapter
	cache    *cache.Search
	limiter  *ratelimit.Cooldown
	store    *store.Store
	opts     aggregate.Options

	maxResults     int
	requestTimeout time.Duration
}

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()

	a := &app{
		adapters:       buildAdapters(cfg),
		cache:          cache.New(time.Duration(cfg.Search.CacheTTLSec)*time.Second, cfg.Search.CacheMaxItems),
		limiter:        ratelimit.NewCooldown(time.Duration(cfg.Search.RateLimitSec) * time.Second),
		store:          db,
		opts:           aggregate.Options{SourceTimeout: time.Duration(cfg.Search.SourceTimeoutSec) * time.Second},
		maxResults:     cfg.Search.MaxResults,
		requestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	}
	if len(a.adapters) == 0 {
		log.Fatal("no sources configured; enable openlibrary or add sites to config.json")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/search", a.handleSearch)
	mux.HandleFunc("/api/wishlist", a.handleWishlist)
	mux.HandleFunc("/api/history", a.handleHistory)
	mux.HandleFunc("/api/saved-searches", a.handleSavedSearches)
	mux.HandleFunc("/api/export", a.handleExport)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(recoverPanic(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s (%d sources)", cfg.Server.Port, len(a.adapters))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildAdapters assembles the active source set from config, wrapping
// each in an outbound pacer when a request budget is set.
func buildAdapters(cfg config.Config) []adapter.Adapter {
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var adapters []adapter.Adapter
	if cfg.OpenLibrary.Enabled {
		client, err := openlibrary.NewClient(openlibrary.WithBaseURL(cfg.OpenLibrary.Endpoint))
		if err != nil {
			log.Printf("openlibrary client error: %v", err)
		} else {
			var a adapter.Adapter = openlibrary.New(openlibrary.Config{Currency: cfg.Search.Currency}, client)
			if cfg.OpenLibrary.MaxRequestsPerMinute > 0 {
				a = ratelimit.NewPacer(a, float64(cfg.OpenLibrary.MaxRequestsPerMinute)/60.0, cfg.OpenLibrary.Burst)
			}
			adapters = append(adapters, a)
		}
	}
	for _, site := range cfg.Sites {
		if site.Name == "" || site.SearchURLTemplate == "" {
			log.Printf("warning: skipping site with missing name or search_url_template")
			continue
		}
		var a adapter.Adapter = jsonld.New(jsonld.Config{
			Name:              site.Name,
			BaseURL:           site.BaseURL,
			SearchURLTemplate: site.SearchURLTemplate,
		}, httpClient)
		if site.MaxRequestsPerMinute > 0 {
			a = ratelimit.NewPacer(a, float64(site.MaxRequestsPerMinute)/60.0, site.Burst)
		}
		adapters = append(adapters, a)
	}
	return adapters
}

type dealJSON struct {
	WishlistTitle string        `json:"wishlist_title"`
	MaxPrice      float64       `json:"max_price"`
	Quote         adapter.Quote `json:"quote"`
}

type searchResponse struct {
	Quotes    []adapter.Quote   `json:"quotes"`
	Counts    map[string]int    `json:"counts"`
	Errors    map[string]string `json:"errors"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Deals     []dealJSON        `json:"deals,omitempty"`
}

// searchParams is a fully parsed search request, whichever surface it
// arrived through.
type searchParams struct {
	Query   adapter.Query
	Sources []string
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := a.parseSearchRequest(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.executeSearch(w, r, p)
}

// parseSearchRequest reads query params on GET and a JSON body on POST.
func (a *app) parseSearchRequest(w http.ResponseWriter, r *http.Request) (searchParams, error) {
	p := searchParams{Query: adapter.Query{MaxResults: a.maxResults}}
	if r.Method == http.MethodPost {
		var body struct {
			Q          string   `json:"q"`
			ISBN       string   `json:"isbn"`
			MaxResults int      `json:"max_results"`
			Sources    []string `json:"sources"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			return p, errors.New("invalid JSON body")
		}
		p.Query.Text = strings.TrimSpace(body.Q)
		p.Query.ISBN = strings.TrimSpace(body.ISBN)
		if body.MaxResults != 0 {
			if body.MaxResults < 0 || body.MaxResults > 50 {
				return p, errors.New("max_results must be 1-50")
			}
			p.Query.MaxResults = body.MaxResults
		}
		p.Sources = body.Sources
	} else {
		q := r.URL.Query()
		p.Query.Text = strings.TrimSpace(q.Get("q"))
		p.Query.ISBN = strings.TrimSpace(q.Get("isbn"))
		if v := q.Get("max_results"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 50 {
				return p, errors.New("max_results must be 1-50")
			}
			p.Query.MaxResults = n
		}
		if s := q.Get("sources"); s != "" {
			p.Sources = splitCSV(s)
		}
	}
	if p.Query.Text == "" && p.Query.ISBN == "" {
		return p, errors.New("missing q or isbn")
	}
	return p, nil
}

// executeSearch runs the shared pipeline: rate limit, cache, aggregate,
// persist history, deal check. Both direct and saved searches land
// here.
func (a *app) executeSearch(w http.ResponseWriter, r *http.Request, p searchParams) {
	if !a.limiter.Allow(clientIP(r), time.Now()) {
		http.Error(w, "rate limited; wait a few seconds between searches", http.StatusTooManyRequests)
		return
	}

	report, err := a.cache.GetOrCompute(cache.NewKey(p.Query), func() (*aggregate.Report, error) {
		// Detached from the request context: the computed report is
		// shared with coalesced and future callers.
		ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
		defer cancel()
		rep, err := aggregate.Run(ctx, p.Query, a.adapters, a.opts)
		if err != nil {
			return nil, err
		}
		// Persisting inside the compute keeps cache hits from
		// duplicating history rows.
		if _, err := a.store.SaveResults(ctx, rep.Quotes); err != nil {
			log.Printf("save history: %v", err)
		}
		return rep, nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// Source restriction is a display filter so the cache stays keyed
	// on the query alone.
	quotes := report.Quotes
	if len(p.Sources) > 0 {
		quotes = filterBySource(quotes, p.Sources)
	}

	resp := searchResponse{
		Quotes:    quotes,
		Counts:    report.CountBySource,
		Errors:    report.ErrBySource,
		ElapsedMS: report.Elapsed.Milliseconds(),
	}
	if entries, err := a.store.Wishlist(r.Context()); err == nil {
		for _, d := range deals.Find(entries, quotes) {
			resp.Deals = append(resp.Deals, dealJSON{
				WishlistTitle: d.Entry.Title,
				MaxPrice:      *d.Entry.MaxPrice,
				Quote:         d.Quote,
			})
		}
	} else {
		log.Printf("wishlist read error: %v", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleWishlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := a.store.Wishlist(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case http.MethodPost:
		var body struct {
			Title    string   `json:"title"`
			Author   string   `json:"author"`
			ISBN     string   `json:"isbn"`
			MaxPrice *float64 `json:"max_price"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		id, err := a.store.AddWishlist(r.Context(), body.Title, body.Author, body.ISBN, body.MaxPrice)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	case http.MethodDelete:
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "missing or invalid id", http.StatusBadRequest)
			return
		}
		ok, err := a.store.RemoveWishlist(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	rows, err := a.store.PriceHistory(r.Context(), r.URL.Query().Get("isbn"), r.URL.Query().Get("title"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}

func (a *app) handleSavedSearches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("run"); id != "" {
			a.runSavedSearch(w, r, id)
			return
		}
		all, err := a.store.SavedSearches(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": all})
	case http.MethodPost:
		var body struct {
			Name   string         `json:"name"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		id, err := a.store.SaveSearch(r.Context(), body.Name, body.Params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		ok, err := a.store.DeleteSavedSearch(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// runSavedSearch replays a stored preset through the normal search
// pipeline.
func (a *app) runSavedSearch(w http.ResponseWriter, r *http.Request, id string) {
	ss, err := a.store.GetSavedSearch(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ss == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	p := a.paramsFromSaved(ss.Params)
	if p.Query.Text == "" && p.Query.ISBN == "" {
		http.Error(w, "saved search has no q or isbn", http.StatusBadRequest)
		return
	}
	a.executeSearch(w, r, p)
}

// paramsFromSaved rebuilds search params from the stored JSON object.
// Unknown keys are ignored; numbers arrive as float64.
func (a *app) paramsFromSaved(m map[string]any) searchParams {
	p := searchParams{Query: adapter.Query{MaxResults: a.maxResults}}
	if v, ok := m["q"].(string); ok {
		p.Query.Text = strings.TrimSpace(v)
	}
	if v, ok := m["isbn"].(string); ok {
		p.Query.ISBN = strings.TrimSpace(v)
	}
	if v, ok := m["max_results"].(float64); ok && v > 0 && v <= 50 {
		p.Query.MaxResults = int(v)
	}
	switch v := m["sources"].(type) {
	case string:
		p.Sources = splitCSV(v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				p.Sources = append(p.Sources, s)
			}
		}
	}
	return p
}

// handleExport streams recorded price history as CSV.
func (a *app) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	rows, err := a.store.PriceHistory(r.Context(), r.URL.Query().Get("isbn"), r.URL.Query().Get("title"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="price_history.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"searched_at", "title", "author", "price", "shipping", "currency", "condition", "source", "isbn", "url"})
	for _, h := range rows {
		shipping := ""
		if h.Shipping != nil {
			shipping = strconv.FormatFloat(*h.Shipping, 'f', 2, 64)
		}
		_ = cw.Write([]string{
			h.SearchedAt.UTC().Format(time.RFC3339), h.Title, h.Author,
			strconv.FormatFloat(h.Price, 'f', 2, 64), shipping,
			h.Currency, h.Condition, h.Source, h.ISBN, h.URL,
		})
	}
	cw.Flush()
}

func filterBySource(quotes []adapter.Quote, wanted []string) []adapter.Quote {
	want := make(map[string]struct{}, len(wanted))
	for _, s := range wanted {
		want[strings.ToLower(s)] = struct{}{}
	}
	out := make([]adapter.Quote, 0, len(quotes))
	for _, q := range quotes {
		if _, ok := want[strings.ToLower(q.Source)]; ok {
			out = append(out, q)
		}
	}
	return out
}

// clientIP is the rate-limit identity: first X-Forwarded-For hop when
// present, else the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
