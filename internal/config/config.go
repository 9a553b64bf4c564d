package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Search struct {
	Currency         string `json:"currency"`
	MaxResults       int    `json:"max_results"`
	CacheTTLSec      int    `json:"cache_ttl_sec"`
	CacheMaxItems    int    `json:"cache_max_items"`
	RateLimitSec     int    `json:"rate_limit_sec"`
	SourceTimeoutSec int    `json:"source_timeout_sec"`
}

type OpenLibrary struct {
	Enabled              bool   `json:"enabled"`
	Endpoint             string `json:"endpoint"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
}

// Site configures a generic JSON-LD adapter instance. The search URL
// template must contain a {query} placeholder.
type Site struct {
	Name                 string `json:"name"`
	BaseURL              string `json:"base_url"`
	SearchURLTemplate    string `json:"search_url_template"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
}

type Config struct {
	Server      Server      `json:"server"`
	Search      Search      `json:"search"`
	DBPath      string      `json:"db_path"`
	OpenLibrary OpenLibrary `json:"openlibrary"`
	Sites       []Site      `json:"sites"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Search: Search{
			Currency:         "USD",
			MaxResults:       10,
			CacheTTLSec:      300,
			CacheMaxItems:    50,
			RateLimitSec:     5,
			SourceTimeoutSec: 20,
		},
		DBPath: defaultDBPath(),
		OpenLibrary: OpenLibrary{
			Enabled:  true,
			Endpoint: "https://openlibrary.org",
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "prices.db"
	}
	return filepath.Join(home, ".local", "share", "bookfinder", "prices.db")
}

// Load reads JSON config from path. If path is empty or the file does
// not exist, it returns defaults. Environment variables override
// select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("BOOKFINDER_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		cfg.Search.Currency = v
	}
	if v := os.Getenv("MAX_RESULTS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Search.MaxResults = x
		}
	}
	if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x >= 0 {
			cfg.Search.CacheTTLSec = x
		}
	}
	if v := os.Getenv("CACHE_MAX_ITEMS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Search.CacheMaxItems = x
		}
	}
	if v := os.Getenv("RATE_LIMIT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x >= 0 {
			cfg.Search.RateLimitSec = x
		}
	}
	if v := os.Getenv("SOURCE_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x >= 0 {
			cfg.Search.SourceTimeoutSec = x
		}
	}
	if v := os.Getenv("OPENLIBRARY_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.OpenLibrary.Enabled = true
		case "0", "false", "no", "n":
			cfg.OpenLibrary.Enabled = false
		}
	}
	if v := os.Getenv("OPENLIBRARY_ENDPOINT"); v != "" {
		cfg.OpenLibrary.Endpoint = v
	}
	if v := os.Getenv("OPENLIBRARY_MAX_RPM"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x >= 0 {
			cfg.OpenLibrary.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("OPENLIBRARY_BURST"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.OpenLibrary.Burst = x
		}
	}
}
