package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// QuoteService resolves spot prices and instrument metadata cache-first,
// falling back through an ordered list of providers.
type QuoteService struct {
	repo      *Repository
	providers []domain.QuoteProvider
	clock     domain.Clock
	logger    zerolog.Logger
}

// NewQuoteService creates a quote service. Providers are tried in the
// order given; put the preferred source first.
func NewQuoteService(repo *Repository, providers []domain.QuoteProvider, clock domain.Clock, logger zerolog.Logger) *QuoteService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &QuoteService{
		repo:      repo,
		providers: providers,
		clock:     clock,
		logger:    logger.With().Str("service", "quotes").Logger(),
	}
}

// QuoteOptions controls fallback behavior for a single lookup.
type QuoteOptions struct {
	// UseStaleOnFailure serves an expired cache entry (flagged Stale)
	// when every provider fails, instead of returning an error.
	UseStaleOnFailure bool
}

func quoteKey(symbol, market string) string {
	return market + ":" + symbol
}

// currencyFor returns the quote currency for a market. Domestic
// instruments are quoted in KRW, everything else in USD.
func currencyFor(market string) string {
	if market == domain.MarketKR {
		return "KRW"
	}
	return "USD"
}

// GetQuote returns the spot price for a symbol, serving from cache when
// fresh and otherwise trying providers in order. On total provider
// failure it returns ErrProviderUnavailable unless opts.UseStaleOnFailure
// is set and an expired entry exists.
func (s *QuoteService) GetQuote(ctx context.Context, symbol, market string, opts QuoteOptions) (*domain.Quote, error) {
	key := quoteKey(symbol, market)

	if quote := s.cachedQuote(key, true); quote != nil {
		return quote, nil
	}

	price, source, fetchErr := s.fetchPrice(ctx, symbol, market)
	if fetchErr == nil {
		quote := &domain.Quote{
			Symbol:    symbol,
			Market:    market,
			Price:     price,
			Currency:  currencyFor(market),
			Source:    source,
			FetchedAt: s.clock.Now(),
		}
		if err := s.repo.Store(TableQuotes, key, quote, source, TTLQuote); err != nil {
			// A cache write failure must not fail the lookup.
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache quote")
		}
		return quote, nil
	}

	if opts.UseStaleOnFailure {
		if quote := s.cachedQuote(key, false); quote != nil {
			quote.Stale = true
			s.logger.Warn().
				Str("symbol", symbol).
				Str("market", market).
				Time("fetched_at", quote.FetchedAt).
				Msg("all providers failed, serving stale quote")
			return quote, nil
		}
	}

	return nil, fmt.Errorf("quote for %s (%s): %w: %v",
		symbol, market, domain.ErrProviderUnavailable, fetchErr)
}

// GetInstrumentInfo returns instrument metadata, cached for 24 hours.
// Metadata is best-effort: stale entries are acceptable without opt-in
// because sector and beta barely move day to day.
func (s *QuoteService) GetInstrumentInfo(ctx context.Context, symbol, market string) (*domain.InstrumentInfo, error) {
	key := quoteKey(symbol, market)

	if entry, err := s.repo.GetIfFresh(TableInstrumentInfo, key); err == nil && entry != nil {
		var info domain.InstrumentInfo
		if err := json.Unmarshal(entry.Data, &info); err == nil {
			return &info, nil
		}
	}

	var errs []error
	for _, p := range s.providers {
		if !p.Supports(market) {
			continue
		}
		info, err := p.GetInstrumentInfo(ctx, symbol, market)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		info.Symbol = symbol
		info.Market = market
		info.Source = p.Name()
		if info.Currency == "" {
			info.Currency = currencyFor(market)
		}
		if err := s.repo.Store(TableInstrumentInfo, key, info, p.Name(), TTLInstrumentInfo); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache instrument info")
		}
		return info, nil
	}

	// Fall back to any cached entry regardless of age.
	if entry, err := s.repo.Get(TableInstrumentInfo, key); err == nil && entry != nil {
		var info domain.InstrumentInfo
		if err := json.Unmarshal(entry.Data, &info); err == nil {
			return &info, nil
		}
	}

	return nil, fmt.Errorf("instrument info for %s (%s): %w: %v",
		symbol, market, domain.ErrProviderUnavailable, errors.Join(errs...))
}

// cachedQuote reads a quote from the cache. When freshOnly is false it
// returns expired entries too; the caller sets the Stale flag.
func (s *QuoteService) cachedQuote(key string, freshOnly bool) *domain.Quote {
	var entry *Entry
	var err error
	if freshOnly {
		entry, err = s.repo.GetIfFresh(TableQuotes, key)
	} else {
		entry, err = s.repo.Get(TableQuotes, key)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil
	}
	if entry == nil {
		return nil
	}

	var quote domain.Quote
	if err := json.Unmarshal(entry.Data, &quote); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt cached quote, discarding")
		return nil
	}
	return &quote
}

// fetchPrice tries each provider that supports the market, in order.
// Returns the first success along with the provider name, or the joined
// errors of every attempt.
func (s *QuoteService) fetchPrice(ctx context.Context, symbol, market string) (float64, string, error) {
	var errs []error
	for _, p := range s.providers {
		if !p.Supports(market) {
			continue
		}
		price, err := p.GetSpotPrice(ctx, symbol, market)
		if err != nil {
			s.logger.Debug().
				Err(err).
				Str("provider", p.Name()).
				Str("symbol", symbol).
				Msg("provider fetch failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if price <= 0 {
			errs = append(errs, fmt.Errorf("%s: non-positive price %f", p.Name(), price))
			continue
		}
		return price, p.Name(), nil
	}
	if len(errs) == 0 {
		return 0, "", fmt.Errorf("no provider supports market %s", market)
	}
	return 0, "", errors.Join(errs...)
}
