package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoon/wonfolio/internal/domain"
)

type stubFXProvider struct {
	name  string
	rate  float64
	err   error
	calls int
}

func (p *stubFXProvider) Name() string { return p.name }

func (p *stubFXProvider) GetRate(_ context.Context, _, _ string) (float64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.rate, nil
}

func newFXService(t *testing.T, clock domain.Clock, providers ...domain.FXProvider) *FXService {
	t.Helper()
	db := setupCacheDB(t)
	repo := NewRepository(db, clock)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewFXService(repo, providers, clock, log)
}

func TestGetRate_Identity(t *testing.T) {
	provider := &stubFXProvider{name: "exchangerate-api", rate: 1350}
	svc := newFXService(t, &domain.FixedClock{T: time.Now()}, provider)

	rate, err := svc.GetRate(context.Background(), "KRW", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate.Rate)
	assert.Zero(t, provider.calls)
}

func TestGetRate_CacheThenProvider(t *testing.T) {
	provider := &stubFXProvider{name: "exchangerate-api", rate: 1342.7}
	svc := newFXService(t, &domain.FixedClock{T: time.Now()}, provider)

	rate, err := svc.GetRate(context.Background(), "USD", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1342.7, rate.Rate)
	assert.Equal(t, "exchangerate-api", rate.Source)
	assert.Equal(t, 1, provider.calls)

	// Served from cache inside the TTL.
	rate, err = svc.GetRate(context.Background(), "USD", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1342.7, rate.Rate)
	assert.Equal(t, 1, provider.calls)
}

func TestGetRate_StaleCacheBeatsFallbackTable(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: start}
	provider := &stubFXProvider{name: "exchangerate-api", rate: 1342.7}
	svc := newFXService(t, clock, provider)

	_, err := svc.GetRate(context.Background(), "USD", "KRW")
	require.NoError(t, err)

	clock.T = start.Add(TTLFXRate + time.Hour)
	provider.err = errors.New("api down")

	rate, err := svc.GetRate(context.Background(), "USD", "KRW")
	require.NoError(t, err)
	assert.True(t, rate.Stale)
	assert.Equal(t, 1342.7, rate.Rate, "stale market rate preferred over hardcoded fallback")
}

func TestGetRate_FallbackTableWhenCacheEmpty(t *testing.T) {
	provider := &stubFXProvider{name: "exchangerate-api", err: errors.New("api down")}
	svc := newFXService(t, &domain.FixedClock{T: time.Now()}, provider)

	rate, err := svc.GetRate(context.Background(), "USD", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1350.0, rate.Rate)
	assert.Equal(t, SourceFallback, rate.Source)
	assert.True(t, rate.Stale)
}

func TestGetRate_UnknownPairNoFallback(t *testing.T) {
	provider := &stubFXProvider{name: "exchangerate-api", err: errors.New("api down")}
	svc := newFXService(t, &domain.FixedClock{T: time.Now()}, provider)

	_, err := svc.GetRate(context.Background(), "GBP", "JPY")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestSyncRates_PartialFailure(t *testing.T) {
	calls := 0
	provider := &fxFunc{name: "exchangerate-api", fn: func(from, to string) (float64, error) {
		calls++
		if from == "EUR" {
			return 0, errors.New("unsupported")
		}
		return 1350, nil
	}}
	svc := newFXService(t, &domain.FixedClock{T: time.Now()}, provider)

	synced, err := svc.SyncRates(context.Background(), [][2]string{
		{"USD", "KRW"},
		{"EUR", "KRW"},
	})
	require.Error(t, err)
	assert.Equal(t, 1, synced)
	assert.Equal(t, 2, calls)
}

type fxFunc struct {
	name string
	fn   func(from, to string) (float64, error)
}

func (p *fxFunc) Name() string { return p.name }

func (p *fxFunc) GetRate(_ context.Context, from, to string) (float64, error) {
	return p.fn(from, to)
}
