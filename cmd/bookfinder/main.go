package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"bookfinder/internal/adapter"
	"bookfinder/internal/adapter/jsonld"
	"bookfinder/internal/adapter/openlibrary"
	"bookfinder/internal/aggregate"
	"bookfinder/internal/config"
	"bookfinder/internal/deals"
	"bookfinder/internal/httpx"
	"bookfinder/internal/ratelimit"
	"bookfinder/internal/store"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "search":
		err = cmdSearch(os.Args[2:])
	case "wishlist":
		err = cmdWishlist(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "saved":
		err = cmdSaved(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("error: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bookfinder <command> [flags]

commands:
  search <query>   search all sources for the cheapest copies
  wishlist         manage the wishlist (add|list|remove)
  history          show recorded price history
  saved            manage saved searches (list|delete)`)
}

func cmdSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var (
		isbn       = fs.String("isbn", "", "search by ISBN instead of title")
		maxResults = fs.Int("n", 0, "max results per source (defaults to config)")
		sources    = fs.String("sources", "", "comma-separated source names to use")
		minPrice   = fs.Float64("min-price", -1, "minimum effective price filter")
		maxPrice   = fs.Float64("max-price", -1, "maximum effective price filter")
		offline    = fs.Bool("offline", false, "use recent results from the database")
		noSave     = fs.Bool("no-save", false, "don't record results in price history")
		csvOut     = fs.Bool("csv", false, "write results as CSV to stdout")
		configPath = fs.String("config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	)
	fs.Parse(args)
	queryText := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryText == "" && *isbn == "" {
		return fmt.Errorf("search needs a query argument or -isbn")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *maxResults <= 0 {
		*maxResults = cfg.Search.MaxResults
	}
	query := adapter.Query{Text: queryText, ISBN: *isbn, MaxResults: *maxResults}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var quotes []adapter.Quote
	if *offline {
		quotes, err = db.RecentResults(ctx, *isbn, queryText, *maxResults*10)
		if err != nil {
			return err
		}
	} else {
		adapters := buildAdapters(cfg)
		if *sources != "" {
			wanted := splitCSV(*sources)
			adapters = adapter.Filter(adapters, wanted)
			if len(adapters) == 0 {
				return fmt.Errorf("no valid sources selected from %q", *sources)
			}
			if len(adapters) < len(wanted) {
				log.Printf("warning: some requested sources are unknown")
			}
		}
		report, err := aggregate.Run(ctx, query, adapters, aggregate.Options{
			SourceTimeout: time.Duration(cfg.Search.SourceTimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		for name, msg := range report.ErrBySource {
			log.Printf("warning: %s failed: %s", name, msg)
		}
		quotes = report.Quotes
	}

	if *minPrice >= 0 || *maxPrice >= 0 {
		filtered := quotes[:0:0]
		for _, q := range quotes {
			total := q.EffectivePrice()
			if *minPrice >= 0 && total < *minPrice {
				continue
			}
			if *maxPrice >= 0 && total > *maxPrice {
				continue
			}
			filtered = append(filtered, q)
		}
		quotes = filtered
	}

	if len(quotes) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	if !*noSave && !*offline {
		if _, err := db.SaveResults(ctx, quotes); err != nil {
			log.Printf("warning: could not save history: %v", err)
		}
		entries, err := db.Wishlist(ctx)
		if err != nil {
			log.Printf("warning: could not read wishlist: %v", err)
		}
		for _, d := range deals.Find(entries, quotes) {
			fmt.Printf("DEAL! %q at %s for %.2f (wishlist max: %.2f)\n",
				d.Quote.Title, d.Quote.Source, d.Quote.EffectivePrice(), *d.Entry.MaxPrice)
		}
	}

	if *csvOut {
		return writeQuotesCSV(os.Stdout, quotes)
	}
	printQuotes(quotes)
	return nil
}

func writeQuotesCSV(w io.Writer, quotes []adapter.Quote) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"title", "author", "price", "shipping", "currency", "condition", "source", "isbn", "url"}); err != nil {
		return err
	}
	for _, q := range quotes {
		shipping := ""
		if q.Shipping != nil {
			shipping = strconv.FormatFloat(*q.Shipping, 'f', 2, 64)
		}
		record := []string{
			q.Title, q.Author,
			strconv.FormatFloat(q.Price, 'f', 2, 64), shipping,
			q.Currency, string(q.Condition), q.Source, q.ISBN, q.URL,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func printQuotes(quotes []adapter.Quote) {
	fmt.Printf("%-40s %-20s %10s %8s %-12s %s\n", "TITLE", "AUTHOR", "PRICE", "COND", "SOURCE", "URL")
	for _, q := range quotes {
		price := "-"
		if q.EffectivePrice() > 0 {
			price = fmt.Sprintf("%.2f %s", q.EffectivePrice(), q.Currency)
		}
		fmt.Printf("%-40s %-20s %10s %8s %-12s %s\n",
			trunc(q.Title, 40), trunc(q.Author, 20), price, q.Condition, q.Source, q.URL)
	}
}

// trunc shortens s to n display runes, never splitting a multi-byte
// character.
func trunc(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func cmdWishlist(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("wishlist needs a subcommand: add, list or remove")
	}
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("wishlist add", flag.ExitOnError)
		var (
			author   = fs.String("author", "", "author")
			isbn     = fs.String("isbn", "", "ISBN")
			maxPrice = fs.Float64("max-price", -1, "alert when the effective price drops to this or below")
		)
		fs.Parse(args[1:])
		title := strings.TrimSpace(strings.Join(fs.Args(), " "))
		var ceiling *float64
		if *maxPrice >= 0 {
			ceiling = maxPrice
		}
		id, err := db.AddWishlist(ctx, title, *author, *isbn, ceiling)
		if err != nil {
			return err
		}
		fmt.Printf("added wishlist entry %d\n", id)
	case "list":
		entries, err := db.Wishlist(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Wishlist is empty.")
			return nil
		}
		for _, e := range entries {
			ceiling := "-"
			if e.MaxPrice != nil {
				ceiling = fmt.Sprintf("%.2f", *e.MaxPrice)
			}
			fmt.Printf("%4d  %-40s %-20s %-15s max %s\n", e.ID, trunc(e.Title, 40), trunc(e.Author, 20), e.ISBN, ceiling)
		}
	case "remove":
		fs := flag.NewFlagSet("wishlist remove", flag.ExitOnError)
		id := fs.Int64("id", 0, "wishlist entry id")
		fs.Parse(args[1:])
		if *id == 0 {
			return fmt.Errorf("wishlist remove needs -id")
		}
		ok, err := db.RemoveWishlist(ctx, *id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no wishlist entry %d", *id)
		}
		fmt.Printf("removed wishlist entry %d\n", *id)
	default:
		return fmt.Errorf("unknown wishlist subcommand %q", args[0])
	}
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var (
		isbn  = fs.String("isbn", "", "filter by ISBN")
		title = fs.String("title", "", "filter by title substring")
		limit = fs.Int("limit", 50, "max rows")
	)
	fs.Parse(args)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	rows, err := db.PriceHistory(ctx, *isbn, *title, *limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No history recorded.")
		return nil
	}
	for _, h := range rows {
		shipping := ""
		if h.Shipping != nil {
			shipping = fmt.Sprintf(" +%.2f ship", *h.Shipping)
		}
		fmt.Printf("%s  %-40s %8.2f %s%s  %-12s\n",
			h.SearchedAt.Format("2006-01-02 15:04"), trunc(h.Title, 40), h.Price, h.Currency, shipping, h.Source)
	}

	if low, err := db.LowestPrice(ctx, *isbn, *title); err == nil && low != nil {
		total := low.Price
		if low.Shipping != nil {
			total += *low.Shipping
		}
		fmt.Printf("\nlowest ever: %.2f %s at %s on %s\n",
			total, low.Currency, low.Source, low.SearchedAt.Format("2006-01-02"))
	}
	return nil
}

func cmdSaved(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("saved needs a subcommand: list or delete")
	}
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	switch args[0] {
	case "list":
		all, err := db.SavedSearches(ctx)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No saved searches.")
			return nil
		}
		for _, s := range all {
			fmt.Printf("%s  %-30s %s\n", s.ID, s.Name, s.CreatedAt.Format("2006-01-02"))
		}
	case "delete":
		fs := flag.NewFlagSet("saved delete", flag.ExitOnError)
		id := fs.String("id", "", "saved search id")
		fs.Parse(args[1:])
		if *id == "" {
			return fmt.Errorf("saved delete needs -id")
		}
		ok, err := db.DeleteSavedSearch(ctx, *id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no saved search %s", *id)
		}
		fmt.Println("deleted")
	default:
		return fmt.Errorf("unknown saved subcommand %q", args[0])
	}
	return nil
}

// buildAdapters mirrors the server's source wiring.
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
