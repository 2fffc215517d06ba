package marketdata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/jihoon/wonfolio/internal/domain"
)

func setupCacheDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range AllTables {
		_, err = db.Exec(`
			CREATE TABLE ` + table + ` (
				key TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				fetched_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL
			)
		`)
		require.NoError(t, err)
	}

	return db
}

func TestRepository_StoreAndGet(t *testing.T) {
	db := setupCacheDB(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := NewRepository(db, domain.FixedClock{T: now})

	quote := domain.Quote{Symbol: "005930", Market: "KR", Price: 71500, Currency: "KRW"}
	err := repo.Store(TableQuotes, "KR:005930", quote, "krx", TTLQuote)
	require.NoError(t, err)

	entry, err := repo.GetIfFresh(TableQuotes, "KR:005930")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "krx", entry.Source)
	assert.Equal(t, now.Unix(), entry.FetchedAt.Unix())
	assert.Equal(t, now.Add(TTLQuote).Unix(), entry.ExpiresAt.Unix())
}

func TestRepository_GetIfFresh_ExpiredReturnsNil(t *testing.T) {
	db := setupCacheDB(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: start}
	repo := NewRepository(db, clock)

	require.NoError(t, repo.Store(TableQuotes, "KR:005930", map[string]float64{"price": 71500}, "krx", TTLQuote))

	// Fresh just inside the TTL.
	clock.T = start.Add(TTLQuote - time.Second)
	entry, err := repo.GetIfFresh(TableQuotes, "KR:005930")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	// Expired once the TTL passes.
	clock.T = start.Add(TTLQuote + time.Second)
	entry, err = repo.GetIfFresh(TableQuotes, "KR:005930")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Get still returns the stale row.
	entry, err = repo.Get(TableQuotes, "KR:005930")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Fresh(clock.T))
}

func TestRepository_GetMissingKey(t *testing.T) {
	db := setupCacheDB(t)
	repo := NewRepository(db, domain.SystemClock{})

	entry, err := repo.Get(TableQuotes, "KR:missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRepository_StoreOverwrites(t *testing.T) {
	db := setupCacheDB(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := NewRepository(db, domain.FixedClock{T: now})

	require.NoError(t, repo.Store(TableFXRates, "USD/KRW", map[string]float64{"rate": 1340}, "exchangerate-api", TTLFXRate))
	require.NoError(t, repo.Store(TableFXRates, "USD/KRW", map[string]float64{"rate": 1355}, "exchangerate-api", TTLFXRate))

	entry, err := repo.Get(TableFXRates, "USD/KRW")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"rate":1355}`, string(entry.Data))
}

func TestRepository_InvalidTable(t *testing.T) {
	db := setupCacheDB(t)
	repo := NewRepository(db, domain.SystemClock{})

	err := repo.Store("positions; DROP TABLE quotes", "k", "v", "s", time.Minute)
	assert.Error(t, err)

	_, err = repo.Get("nope", "k")
	assert.Error(t, err)

	_, err = repo.DeleteExpired("nope", 0)
	assert.Error(t, err)
}

func TestRepository_DeleteExpiredHonorsGrace(t *testing.T) {
	db := setupCacheDB(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: start}
	repo := NewRepository(db, clock)

	require.NoError(t, repo.Store(TableQuotes, "KR:005930", "a", "krx", TTLQuote))
	require.NoError(t, repo.Store(TableQuotes, "US:AAPL", "b", "yahoo", TTLQuote))

	// Expired but still within the grace window: nothing deleted.
	clock.T = start.Add(TTLQuote + time.Hour)
	deleted, err := repo.DeleteExpired(TableQuotes, CleanupGrace)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Past the grace window: both rows purged.
	clock.T = start.Add(TTLQuote + CleanupGrace + time.Hour)
	deleted, err = repo.DeleteExpired(TableQuotes, CleanupGrace)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestRepository_DeleteAllExpired(t *testing.T) {
	db := setupCacheDB(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: start}
	repo := NewRepository(db, clock)

	require.NoError(t, repo.Store(TableQuotes, "KR:005930", "a", "krx", time.Minute))
	require.NoError(t, repo.Store(TableFXRates, "USD/KRW", "b", "exchangerate-api", time.Minute))
	require.NoError(t, repo.Store(TableInstrumentInfo, "US:AAPL", "c", "yahoo", 48*time.Hour))

	clock.T = start.Add(26 * time.Hour)
	results, err := repo.DeleteAllExpired(CleanupGrace)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableQuotes])
	assert.Equal(t, int64(1), results[TableFXRates])
	assert.Equal(t, int64(0), results[TableInstrumentInfo])
}
