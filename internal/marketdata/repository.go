// Package marketdata provides TTL-based caching of prices, FX rates and
// instrument metadata, fronting multiple upstream providers with ordered
// fallback. All payloads are stored as JSON blobs with expiration
// timestamps for cache-first behavior.
package marketdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jihoon/wonfolio/internal/domain"
)

// Cache table names in cache.db.
const (
	TableQuotes         = "quotes"
	TableFXRates        = "fx_rates"
	TableInstrumentInfo = "instrument_info"
)

// AllTables lists all cache tables for cleanup operations.
var AllTables = []string{
	TableQuotes,
	TableFXRates,
	TableInstrumentInfo,
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Entry is a cache row with its freshness metadata.
type Entry struct {
	Key       string
	Data      json.RawMessage
	Source    string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its TTL at the given time.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Repository provides cache operations over cache.db.
type Repository struct {
	db    *sql.DB
	clock domain.Clock
}

// NewRepository creates a new market data cache repository.
func NewRepository(db *sql.DB, clock domain.Clock) *Repository {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Repository{db: db, clock: clock}
}

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid cache table name: %s", table)
	}
	return nil
}

// Store saves data with expiration = now + ttl and tags it with the
// winning provider's name. Uses INSERT OR REPLACE so readers never see a
// half-written payload: the row swap is atomic.
func (r *Repository) Store(table, key string, data interface{}, source string, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	now := r.clock.Now()

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, data, source, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		table,
	)

	_, err = r.db.Exec(query, key, string(jsonData), source, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh returns the entry only if expires_at > now, nil otherwise.
// Returns nil, nil if the key doesn't exist or the data is expired.
// Use Get() to retrieve stale data as a fallback when providers fail.
func (r *Repository) GetIfFresh(table, key string) (*Entry, error) {
	entry, err := r.Get(table, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if !entry.Fresh(r.clock.Now()) {
		return nil, nil
	}
	return entry, nil
}

// Get returns the entry regardless of expiration status.
// Use this as a fallback when provider calls fail - stale data is better
// than no data, but only when the caller explicitly opted in.
// Returns nil, nil if the key doesn't exist.
func (r *Repository) Get(table, key string) (*Entry, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT data, source, fetched_at, expires_at FROM %s WHERE key = ?",
		table,
	)

	var data, source string
	var fetchedAt, expiresAt int64
	err := r.db.QueryRow(query, key).Scan(&data, &source, &fetchedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	return &Entry{
		Key:       key,
		Data:      json.RawMessage(data),
		Source:    source,
		FetchedAt: time.Unix(fetchedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(table, key string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)
	if _, err := r.db.Exec(query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	return nil
}

// DeleteExpired removes all rows expired for longer than the grace
// window. The grace window keeps recently-expired entries around so the
// stale-on-failure path still has something to serve.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(table string, grace time.Duration) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	cutoff := r.clock.Now().Add(-grace).Unix()

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	result, err := r.db.Exec(query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}

	return deleted, nil
}

// DeleteAllExpired removes expired entries (past the grace window) from
// all cache tables. Returns a map of table name to rows deleted.
func (r *Repository) DeleteAllExpired(grace time.Duration) (map[string]int64, error) {
	results := make(map[string]int64)

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table, grace)
		if err != nil {
			return results, fmt.Errorf("failed to delete expired from %s: %w", table, err)
		}
		results[table] = deleted
	}

	return results, nil
}
