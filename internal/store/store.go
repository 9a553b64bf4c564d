package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bookfinder/internal/adapter"
)

// WishlistEntry is a book the user wants, optionally with a price
// ceiling the deal matcher compares effective prices against.
type WishlistEntry struct {
	ID       int64
	Title    string
	Author   string
	ISBN     string
	MaxPrice *float64
	AddedAt  time.Time
}

// HistoryRow is one persisted price observation.
type HistoryRow struct {
	ID         int64
	ISBN       string
	Title      string
	Author     string
	Price      float64
	Shipping   *float64
	Currency   string
	Condition  string
	Source     string
	URL        string
	SearchedAt time.Time
}

// SavedSearch is a named search preset with its parameters as JSON.
type SavedSearch struct {
	ID        string
	Name      string
	Params    map[string]any
	CreatedAt time.Time
}

// Store persists price history, the wishlist and saved searches in a
// single SQLite file.
type Store struct {
	sql *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite best practice for embedded use
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	s := &Store{sql: sqldb}
	if err := s.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			isbn TEXT,
			title TEXT NOT NULL,
			author TEXT,
			price REAL NOT NULL,
			shipping REAL,
			currency TEXT DEFAULT 'USD',
			condition TEXT,
			source TEXT NOT NULL,
			url TEXT,
			searched_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_isbn ON price_history(isbn);`,
		`CREATE INDEX IF NOT EXISTS idx_price_title ON price_history(title);`,
		`CREATE INDEX IF NOT EXISTS idx_price_searched_at ON price_history(searched_at);`,
		`CREATE TABLE IF NOT EXISTS wishlist (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			author TEXT,
			isbn TEXT,
			max_price REAL,
			added_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wishlist_isbn ON wishlist(isbn);`,
		`CREATE TABLE IF NOT EXISTS saved_searches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			params TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saved_searches_name ON saved_searches(name);`,
	}
	for _, stmt := range stmts {
		if _, err := s.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveResults appends quotes to the price history. Returns the number
// of rows inserted.
func (s *Store) SaveResults(ctx context.Context, quotes []adapter.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_history
		 (isbn, title, author, price, shipping, currency, condition, source, url, searched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.ExecContext(ctx,
			q.ISBN, q.Title, q.Author, q.Price, q.Shipping, q.Currency,
			string(q.Condition), q.Source, q.URL, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(quotes), nil
}

func historyWhere(isbn, title string) (string, []any) {
	switch {
	case isbn != "":
		return "WHERE isbn = ?", []any{isbn}
	case title != "":
		return "WHERE title LIKE ?", []any{"%" + title + "%"}
	default:
		return "", nil
	}
}

// PriceHistory returns recorded observations for a book, newest first.
// Lookup is by ISBN when given, otherwise by title substring.
func (s *Store) PriceHistory(ctx context.Context, isbn, title string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := historyWhere(isbn, title)
	args = append(args, limit)
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, isbn, title, author, price, shipping, currency, condition, source, url, searched_at
		 FROM price_history `+where+` ORDER BY searched_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RecentResults rebuilds quotes from recent history for offline mode.
func (s *Store) RecentResults(ctx context.Context, isbn, title string, limit int) ([]adapter.Quote, error) {
	hist, err := s.PriceHistory(ctx, isbn, title, limit)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Quote, 0, len(hist))
	for _, h := range hist {
		out = append(out, adapter.Quote{
			Title:     h.Title,
			Author:    h.Author,
			Price:     h.Price,
			Shipping:  h.Shipping,
			Currency:  h.Currency,
			Condition: adapter.ParseCondition(h.Condition),
			Source:    h.Source,
			URL:       h.URL,
			ISBN:      h.ISBN,
		})
	}
	return out, nil
}

// LowestPrice returns the cheapest priced observation ever recorded
// for a book, or nil when none exists.
func (s *Store) LowestPrice(ctx context.Context, isbn, title string) (*HistoryRow, error) {
	where, args := historyWhere(isbn, title)
	if where == "" {
		return nil, errors.New("store: lowest price needs an isbn or title")
	}
	row := s.sql.QueryRowContext(ctx,
		`SELECT id, isbn, title, author, price, shipping, currency, condition, source, url, searched_at
		 FROM price_history `+where+` AND price > 0
		 ORDER BY price + COALESCE(shipping, 0) ASC LIMIT 1`, args...)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(r rowScanner) (HistoryRow, error) {
	var h HistoryRow
	var isbn, author, currency, condition, url sql.NullString
	var shipping sql.NullFloat64
	var at int64
	err := r.Scan(&h.ID, &isbn, &h.Title, &author, &h.Price, &shipping,
		&currency, &condition, &h.Source, &url, &at)
	if err != nil {
		return h, err
	}
	h.ISBN, h.Author, h.Currency, h.Condition, h.URL =
		isbn.String, author.String, currency.String, condition.String, url.String
	if shipping.Valid {
		v := shipping.Float64
		h.Shipping = &v
	}
	h.SearchedAt = time.Unix(at, 0)
	return h, nil
}

// AddWishlist inserts a wishlist entry and returns its ID.
func (s *Store) AddWishlist(ctx context.Context, title, author, isbn string, maxPrice *float64) (int64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, errors.New("store: wishlist title is required")
	}
	res, err := s.sql.ExecContext(ctx,
		`INSERT INTO wishlist (title, author, isbn, max_price, added_at) VALUES (?, ?, ?, ?, ?)`,
		title, author, isbn, maxPrice, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RemoveWishlist deletes an entry by ID, reporting whether it existed.
func (s *Store) RemoveWishlist(ctx context.Context, id int64) (bool, error) {
	res, err := s.sql.ExecContext(ctx, `DELETE FROM wishlist WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Wishlist returns all entries, newest first.
func (s *Store) Wishlist(ctx context.Context) ([]WishlistEntry, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, title, author, isbn, max_price, added_at FROM wishlist ORDER BY added_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WishlistEntry
	for rows.Next() {
		var e WishlistEntry
		var author, isbn sql.NullString
		var maxPrice sql.NullFloat64
		var at int64
		if err := rows.Scan(&e.ID, &e.Title, &author, &isbn, &maxPrice, &at); err != nil {
			return nil, err
		}
		e.Author, e.ISBN = author.String, isbn.String
		if maxPrice.Valid {
			v := maxPrice.Float64
			e.MaxPrice = &v
		}
		e.AddedAt = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSearch stores a named search preset and returns its ID.
func (s *Store) SaveSearch(ctx context.Context, name string, params map[string]any) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("store: saved search name is required")
	}
	blob, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	id := "srch_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = s.sql.ExecContext(ctx,
		`INSERT INTO saved_searches (id, name, params, created_at) VALUES (?, ?, ?, ?)`,
		id, name, string(blob), time.Now().Unix())
	if err != nil {
		return "", err
	}
	return id, nil
}

// SavedSearches lists presets, newest first.
func (s *Store) SavedSearches(ctx context.Context) ([]SavedSearch, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, name, params, created_at FROM saved_searches ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SavedSearch
	for rows.Next() {
		ss, err := scanSavedSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// GetSavedSearch returns one preset by ID, or nil when absent.
func (s *Store) GetSavedSearch(ctx context.Context, id string) (*SavedSearch, error) {
	row := s.sql.QueryRowContext(ctx,
		`SELECT id, name, params, created_at FROM saved_searches WHERE id = ?`, id)
	ss, err := scanSavedSearch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// DeleteSavedSearch removes a preset, reporting whether it existed.
func (s *Store) DeleteSavedSearch(ctx context.Context, id string) (bool, error) {
	res, err := s.sql.ExecContext(ctx, `DELETE FROM saved_searches WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanSavedSearch(r rowScanner) (SavedSearch, error) {
	var ss SavedSearch
	var blob string
	var at int64
	if err := r.Scan(&ss.ID, &ss.Name, &blob, &at); err != nil {
		return ss, err
	}
	if err := json.Unmarshal([]byte(blob), &ss.Params); err != nil {
		return ss, fmt.Errorf("saved search %s: %w", ss.ID, err)
	}
	ss.CreatedAt = time.Unix(at, 0)
	return ss, nil
}
