package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestHealthCheck(t *testing.T) {
	db := newTempDB(t, "portfolio", ProfileLedger)
	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestCheckpointJob_TruncatesWAL(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	portfolio := newTempDB(t, "portfolio", ProfileLedger)
	cache := newTempDB(t, "cache", ProfileCache)

	// Writes land in the WAL first.
	_, err := cache.Conn().Exec(
		"INSERT INTO quotes (key, data, source, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		"KR:005930", `{"price":70000}`, "krx", 1000, 2000,
	)
	require.NoError(t, err)

	job := NewCheckpointJob(log, portfolio, cache)
	assert.Equal(t, "wal-checkpoint", job.Name())
	require.NoError(t, job.Run())

	stats, err := cache.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.WALSizeBytes)

	var count int
	require.NoError(t, cache.Conn().QueryRow("SELECT COUNT(*) FROM quotes").Scan(&count))
	assert.Equal(t, 1, count)
}
