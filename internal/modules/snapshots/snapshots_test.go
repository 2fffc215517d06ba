package snapshots

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoon/wonfolio/internal/domain"
	testingpkg "github.com/jihoon/wonfolio/internal/testing"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func snap(userID, date string, value float64) *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		UserID:        userID,
		Date:          date,
		TotalValue:    value,
		TotalInvested: 1000,
	}
}

func TestUpsert_SameDayReplaces(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Upsert(snap("u1", "2026-03-02", 1000)))
	require.NoError(t, repo.Upsert(snap("u1", "2026-03-02", 1100)))

	history, err := repo.History("u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "same-day runs collapse to one row")
	assert.Equal(t, 1100.0, history[0].TotalValue)
}

func TestHistory_AscendingWithLimit(t *testing.T) {
	repo := newRepo(t)

	dates := []string{"2026-03-01", "2026-03-02", "2026-03-03", "2026-03-04"}
	for i, d := range dates {
		require.NoError(t, repo.Upsert(snap("u1", d, float64(1000+i*10))))
	}

	history, err := repo.History("u1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2026-03-02", history[0].Date, "limit keeps the newest rows")
	assert.Equal(t, "2026-03-04", history[2].Date)
}

func TestHistory_IsolatedPerUser(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Upsert(snap("u1", "2026-03-02", 1000)))
	require.NoError(t, repo.Upsert(snap("u2", "2026-03-02", 2000)))

	history, err := repo.History("u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1000.0, history[0].TotalValue)
}

func TestDailyReturns(t *testing.T) {
	history := []domain.PortfolioSnapshot{
		{TotalValue: 1000},
		{TotalValue: 1100},
		{TotalValue: 990},
	}

	returns := dailyReturns(history)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestDailyReturns_ZeroValueDay(t *testing.T) {
	history := []domain.PortfolioSnapshot{
		{TotalValue: 0},
		{TotalValue: 1000},
	}

	returns := dailyReturns(history)
	require.Len(t, returns, 1)
	assert.Zero(t, returns[0])
}

func TestMaxDrawdown(t *testing.T) {
	history := []domain.PortfolioSnapshot{
		{TotalValue: 1000},
		{TotalValue: 1200},
		{TotalValue: 900},
		{TotalValue: 1100},
	}

	// Peak 1200 to trough 900.
	assert.InDelta(t, 0.25, maxDrawdown(history), 1e-9)
}

func TestMaxDrawdown_MonotonicSeriesIsZero(t *testing.T) {
	history := []domain.PortfolioSnapshot{
		{TotalValue: 1000},
		{TotalValue: 1100},
		{TotalValue: 1200},
	}

	assert.Zero(t, maxDrawdown(history))
}

func TestAnalytics_Report(t *testing.T) {
	repo := newRepo(t)
	recorder := &Recorder{repo: repo, clock: domain.SystemClock{}, log: zerolog.New(nil).Level(zerolog.Disabled)}

	values := []float64{1000, 1100, 990, 1050}
	dates := []string{"2026-03-01", "2026-03-02", "2026-03-03", "2026-03-04"}
	for i := range values {
		require.NoError(t, repo.Upsert(snap("u1", dates[i], values[i])))
	}

	report, err := recorder.Analytics("u1", 30)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Days)
	assert.InDelta(t, 5.0, report.CumulativeReturn, 1e-9)
	assert.InDelta(t, 10.0, report.MaxDrawdown, 1e-6) // 1100 -> 990
	assert.InDelta(t, 10.0, report.BestDailyReturn, 1e-6)
	assert.InDelta(t, -10.0, report.WorstDailyReturn, 1e-6)
	assert.Greater(t, report.AnnualizedVol, 0.0)
	assert.False(t, math.IsNaN(report.AnnualizedVol))
}

func TestAnalytics_NeedsTwoPoints(t *testing.T) {
	repo := newRepo(t)
	recorder := &Recorder{repo: repo, clock: domain.SystemClock{}, log: zerolog.New(nil).Level(zerolog.Disabled)}

	require.NoError(t, repo.Upsert(snap("u1", "2026-03-02", 1000)))

	_, err := recorder.Analytics("u1", 30)
	assert.Error(t, err)
}
