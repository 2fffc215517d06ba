package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// fallbackRates are last-resort conversion rates used when every provider
// is down and the cache holds nothing, not even a stale row. Valuation
// keeps working through an outage at the cost of accuracy.
var fallbackRates = map[string]float64{
	"USD/KRW": 1350.0,
	"KRW/USD": 1.0 / 1350.0,
}

// SourceFallback tags rates served from the hardcoded table.
const SourceFallback = "fallback"

// FXService resolves currency conversion rates with a tiered fallback:
// fresh cache, then providers in order, then stale cache, then the
// hardcoded table.
type FXService struct {
	repo      *Repository
	providers []domain.FXProvider
	clock     domain.Clock
	logger    zerolog.Logger
}

// NewFXService creates an FX rate service.
func NewFXService(repo *Repository, providers []domain.FXProvider, clock domain.Clock, logger zerolog.Logger) *FXService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &FXService{
		repo:      repo,
		providers: providers,
		clock:     clock,
		logger:    logger.With().Str("service", "fx").Logger(),
	}
}

func fxKey(from, to string) string {
	return from + "/" + to
}

// GetRate returns the conversion rate from one currency to another.
// Identity conversions return 1.0 without touching cache or providers.
func (s *FXService) GetRate(ctx context.Context, from, to string) (*domain.FXRate, error) {
	if from == to {
		return &domain.FXRate{
			From:      from,
			To:        to,
			Rate:      1.0,
			Source:    "identity",
			FetchedAt: s.clock.Now(),
		}, nil
	}

	key := fxKey(from, to)

	// Tier 1: fresh cache.
	if rate := s.cachedRate(key, true); rate != nil {
		return rate, nil
	}

	// Tier 2: providers in order.
	rate, fetchErr := s.fetchRate(ctx, from, to)
	if fetchErr == nil {
		return rate, nil
	}

	// Tier 3: stale cache. An old market rate beats the static table.
	if rate := s.cachedRate(key, false); rate != nil {
		rate.Stale = true
		s.logger.Warn().
			Str("pair", key).
			Time("fetched_at", rate.FetchedAt).
			Msg("all FX providers failed, serving stale rate")
		return rate, nil
	}

	// Tier 4: hardcoded fallback table.
	if fallback, ok := fallbackRates[key]; ok {
		s.logger.Warn().
			Str("pair", key).
			Float64("rate", fallback).
			Msg("all FX providers failed and cache empty, using fallback rate")
		return &domain.FXRate{
			From:      from,
			To:        to,
			Rate:      fallback,
			Source:    SourceFallback,
			FetchedAt: s.clock.Now(),
			Stale:     true,
		}, nil
	}

	return nil, fmt.Errorf("fx rate %s: %w: %v", key, domain.ErrProviderUnavailable, fetchErr)
}

// SyncRates refreshes the given currency pairs from providers, tolerating
// per-pair failures. Returns the number of pairs refreshed and the joined
// errors for the pairs that failed.
func (s *FXService) SyncRates(ctx context.Context, pairs [][2]string) (int, error) {
	var errs []error
	synced := 0

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if _, err := s.fetchRate(ctx, pair[0], pair[1]); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", pair[0], pair[1], err))
			continue
		}
		synced++
	}

	if len(errs) > 0 {
		return synced, errors.Join(errs...)
	}
	return synced, nil
}

func (s *FXService) cachedRate(key string, freshOnly bool) *domain.FXRate {
	var entry *Entry
	var err error
	if freshOnly {
		entry, err = s.repo.GetIfFresh(TableFXRates, key)
	} else {
		entry, err = s.repo.Get(TableFXRates, key)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil
	}
	if entry == nil {
		return nil
	}

	var rate domain.FXRate
	if err := json.Unmarshal(entry.Data, &rate); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt cached rate, discarding")
		return nil
	}
	return &rate
}

// fetchRate tries each provider in order and caches the first success.
func (s *FXService) fetchRate(ctx context.Context, from, to string) (*domain.FXRate, error) {
	key := fxKey(from, to)

	var errs []error
	for _, p := range s.providers {
		value, err := p.GetRate(ctx, from, to)
		if err != nil {
			s.logger.Debug().
				Err(err).
				Str("provider", p.Name()).
				Str("pair", key).
				Msg("provider fetch failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s: non-positive rate %f", p.Name(), value))
			continue
		}

		rate := &domain.FXRate{
			From:      from,
			To:        to,
			Rate:      value,
			Source:    p.Name(),
			FetchedAt: s.clock.Now(),
		}
		if err := s.repo.Store(TableFXRates, key, rate, p.Name(), TTLFXRate); err != nil {
			s.logger.Warn().Err(err).Str("pair", key).Msg("failed to cache FX rate")
		}
		return rate, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no FX providers configured")
	}
	return nil, errors.Join(errs...)
}
