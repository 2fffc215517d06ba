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

// stubProvider is a scriptable QuoteProvider for fallback-order tests.
type stubProvider struct {
	name    string
	markets map[string]bool
	price   float64
	info    *domain.InstrumentInfo
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Supports(market string) bool { return p.markets[market] }

func (p *stubProvider) GetSpotPrice(_ context.Context, _, _ string) (float64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.price, nil
}

func (p *stubProvider) GetInstrumentInfo(_ context.Context, _, _ string) (*domain.InstrumentInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.info == nil {
		return nil, errors.New("no info")
	}
	info := *p.info
	return &info, nil
}

func newQuoteService(t *testing.T, clock domain.Clock, providers ...domain.QuoteProvider) (*QuoteService, *Repository) {
	t.Helper()
	db := setupCacheDB(t)
	repo := NewRepository(db, clock)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewQuoteService(repo, providers, clock, log), repo
}

func TestGetQuote_FreshCacheSkipsProviders(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: now}
	provider := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, price: 71500}
	svc, _ := newQuoteService(t, clock, provider)

	quote, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 71500.0, quote.Price)
	assert.Equal(t, "KRW", quote.Currency)
	assert.Equal(t, "krx", quote.Source)
	assert.Equal(t, 1, provider.calls)

	// Second lookup inside the TTL is served from cache.
	quote, err = svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 71500.0, quote.Price)
	assert.False(t, quote.Stale)
	assert.Equal(t, 1, provider.calls)
}

func TestGetQuote_FallsThroughProviderOrder(t *testing.T) {
	clock := &domain.FixedClock{T: time.Now()}
	down := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, err: errors.New("timeout")}
	up := &stubProvider{name: "yahoo", markets: map[string]bool{"KR": true, "US": true}, price: 71000}
	svc, _ := newQuoteService(t, clock, down, up)

	quote, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", quote.Source)
	assert.Equal(t, 1, down.calls)
	assert.Equal(t, 1, up.calls)
}

func TestGetQuote_SkipsUnsupportedMarkets(t *testing.T) {
	clock := &domain.FixedClock{T: time.Now()}
	krOnly := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, price: 99}
	intl := &stubProvider{name: "yahoo", markets: map[string]bool{"US": true}, price: 191.5}
	svc, _ := newQuoteService(t, clock, krOnly, intl)

	quote, err := svc.GetQuote(context.Background(), "AAPL", "US", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", quote.Source)
	assert.Equal(t, "USD", quote.Currency)
	assert.Zero(t, krOnly.calls)
}

func TestGetQuote_AllProvidersDown(t *testing.T) {
	clock := &domain.FixedClock{T: time.Now()}
	down := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, err: errors.New("503")}
	svc, _ := newQuoteService(t, clock, down)

	_, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestGetQuote_StaleOnFailureOptIn(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &domain.FixedClock{T: start}
	provider := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, price: 71500}
	svc, _ := newQuoteService(t, clock, provider)

	_, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)

	// TTL passes and the provider goes down.
	clock.T = start.Add(TTLQuote + time.Minute)
	provider.err = errors.New("down")

	// Without opt-in the failure surfaces.
	_, err = svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	// With opt-in the expired entry is served, flagged stale.
	quote, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{UseStaleOnFailure: true})
	require.NoError(t, err)
	assert.True(t, quote.Stale)
	assert.Equal(t, 71500.0, quote.Price)
}

func TestGetQuote_RefetchesAfterTTLExpiry(t *testing.T) {
	clock := &domain.FixedClock{T: time.Now()}
	provider := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, price: 71500}
	svc, _ := newQuoteService(t, clock, provider)

	_, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)

	// A second lookup inside the TTL reads the cache; the provider's
	// new price is not visible until the entry expires.
	provider.price = 72000
	quote, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 71500.0, quote.Price)
	assert.Equal(t, 1, provider.calls)

	clock.T = clock.T.Add(TTLQuote + time.Second)
	quote, err = svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 72000.0, quote.Price)
	assert.Equal(t, 2, provider.calls)
}

func TestGetQuote_RejectsNonPositivePrice(t *testing.T) {
	clock := &domain.FixedClock{T: time.Now()}
	bad := &stubProvider{name: "krx", markets: map[string]bool{"KR": true}, price: 0}
	good := &stubProvider{name: "yahoo", markets: map[string]bool{"KR": true}, price: 71500}
	svc, _ := newQuoteService(t, clock, bad, good)

	quote, err := svc.GetQuote(context.Background(), "005930", "KR", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", quote.Source)
	assert.Equal(t, 71500.0, quote.Price)
}

func TestGetInstrumentInfo_CachedAndFallback(t *testing.T) {
	beta := 1.2
	clock := &domain.FixedClock{T: time.Now()}
	provider := &stubProvider{
		name:    "yahoo",
		markets: map[string]bool{"US": true},
		info:    &domain.InstrumentInfo{Name: "Apple Inc", Sector: "Technology", Beta: &beta},
	}
	svc, _ := newQuoteService(t, clock, provider)

	info, err := svc.GetInstrumentInfo(context.Background(), "AAPL", "US")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc", info.Name)
	assert.Equal(t, "yahoo", info.Source)
	require.NotNil(t, info.Beta)
	assert.InDelta(t, 1.2, *info.Beta, 1e-9)

	// Provider failure after caching: the cached entry is used.
	provider.err = errors.New("down")
	info, err = svc.GetInstrumentInfo(context.Background(), "AAPL", "US")
	require.NoError(t, err)
	assert.Equal(t, "Technology", info.Sector)
}
