// Command probe checks which configured book sources are reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"bookfinder/internal/adapter"
	"bookfinder/internal/adapter/jsonld"
	"bookfinder/internal/adapter/openlibrary"
	"bookfinder/internal/config"
	"bookfinder/internal/httpx"
)

func main() {
	log.SetFlags(0)
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
		timeout    = flag.Duration("timeout", 10*time.Second, "per-source probe timeout")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		log.Fatal("no sources configured")
	}

	exitCode := 0
	for _, a := range adapters {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		up := adapter.Available(ctx, a)
		cancel()

		status := "up"
		if !up {
			status = "DOWN"
			exitCode = 1
		}
		fmt.Printf("%-20s %-6s %s\n", a.Name(), status, a.BaseURL())
	}
	os.Exit(exitCode)
}

func buildAdapters(cfg config.Config) []adapter.Adapter {
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var adapters []adapter.Adapter
	if cfg.OpenLibrary.Enabled {
		client, err := openlibrary.NewClient(openlibrary.WithBaseURL(cfg.OpenLibrary.Endpoint))
		if err != nil {
			log.Printf("openlibrary client error: %v", err)
		} else {
			adapters = append(adapters, openlibrary.New(openlibrary.Config{Currency: cfg.Search.Currency}, client))
		}
	}
	for _, site := range cfg.Sites {
		if site.Name == "" || site.SearchURLTemplate == "" {
			continue
		}
		adapters = append(adapters, jsonld.New(jsonld.Config{
			Name:              site.Name,
			BaseURL:           site.BaseURL,
			SearchURLTemplate: site.SearchURLTemplate,
		}, httpClient))
	}
	return adapters
}
