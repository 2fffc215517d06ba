// Package valuation recomputes derived position values from cached
// market data. Revaluation is idempotent: running it twice against the
// same quotes and rates yields the same stored values.
package valuation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/marketdata"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
)

// PortfolioValuation is the full valuation view for one user.
type PortfolioValuation struct {
	UserID    string            `json:"user_id"`
	Positions []domain.Position `json:"positions"`
	Summary   Summary           `json:"summary"`
}

// Summary aggregates position-level values.
type Summary struct {
	TotalValue     float64            `json:"total_value"`
	TotalInvested  float64            `json:"total_invested"`
	TotalGainLoss  float64            `json:"total_gain_loss"`
	TotalReturnPct float64            `json:"total_return_pct"`
	RealizedProfit float64            `json:"realized_profit"`
	PositionCount  int                `json:"position_count"`
	ByMarket       map[string]float64 `json:"by_market"`
	ByAccount      map[string]float64 `json:"by_account"`
}

// Service revalues positions against the market data cache.
type Service struct {
	positions *ledger.PositionRepository
	txns      *ledger.TransactionRepository
	quotes    *marketdata.QuoteService
	fx        *marketdata.FXService
	clock     domain.Clock
	workers   int
	log       zerolog.Logger
}

// NewService creates a valuation service. workers bounds the concurrent
// quote fetches per user.
func NewService(positions *ledger.PositionRepository, txns *ledger.TransactionRepository, quotes *marketdata.QuoteService, fx *marketdata.FXService, clock domain.Clock, workers int, log zerolog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if workers <= 0 {
		workers = 8
	}
	return &Service{
		positions: positions,
		txns:      txns,
		quotes:    quotes,
		fx:        fx,
		clock:     clock,
		workers:   workers,
		log:       log.With().Str("service", "valuation").Logger(),
	}
}

// priceResult carries one position's repriced state back from a worker.
type priceResult struct {
	index    int
	position domain.Position
	err      error
}

// RevalueUser reprices every position a user holds and rewrites the
// derived columns. Positions whose price cannot be resolved keep their
// previous values; the pass continues.
func (s *Service) RevalueUser(ctx context.Context, userID string) error {
	positions, err := s.positions.GetAllForUser(userID)
	if err != nil {
		return fmt.Errorf("failed to load positions for %s: %w", userID, err)
	}
	if len(positions) == 0 {
		return nil
	}

	repriced := s.repriceAll(ctx, positions)

	// Weights need the portfolio total, so they come after repricing.
	var totalValue float64
	for i := range repriced {
		totalValue += repriced[i].MarketValue
	}
	for i := range repriced {
		if totalValue > 0 {
			repriced[i].WeightPct = repriced[i].MarketValue / totalValue * 100
		} else {
			repriced[i].WeightPct = 0
		}
	}

	for i := range repriced {
		if err := s.positions.UpdateValuation(&repriced[i]); err != nil {
			return fmt.Errorf("failed to store valuation for %s: %w", repriced[i].Symbol, err)
		}
	}

	s.log.Debug().
		Str("user", userID).
		Int("positions", len(repriced)).
		Float64("total_value", totalValue).
		Msg("revaluation complete")

	return nil
}

// RevalueAll revalues every user with positions. One user's failure is
// logged and does not stop the others; cancellation is checked between
// users.
func (s *Service) RevalueAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	users, err := s.positions.GetAllUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RevalueUser(ctx, userID); err != nil {
			s.log.Error().Err(err).Str("user", userID).Msg("user revaluation failed, continuing")
		}
	}

	return nil
}

// GetValuation returns the stored valuation view with summary totals and
// distributions. It does not reprice; call RevalueUser first for fresh
// numbers.
func (s *Service) GetValuation(userID string) (*PortfolioValuation, error) {
	positions, err := s.positions.GetAllForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for %s: %w", userID, err)
	}

	realized, err := s.txns.RealizedProfitForUser(userID)
	if err != nil {
		return nil, err
	}

	summary := Summary{
		RealizedProfit: realized,
		PositionCount:  len(positions),
		ByMarket:       make(map[string]float64),
		ByAccount:      make(map[string]float64),
	}
	for i := range positions {
		p := &positions[i]
		summary.TotalValue += p.MarketValue
		summary.TotalInvested += p.Quantity * p.AvgPriceKRW
		summary.TotalGainLoss += p.UnrealizedPnL
		summary.ByMarket[p.Market] += p.MarketValue
		summary.ByAccount[p.Account] += p.MarketValue
	}
	if summary.TotalInvested > 0 {
		summary.TotalReturnPct = summary.TotalGainLoss / summary.TotalInvested * 100
	}

	return &PortfolioValuation{
		UserID:    userID,
		Positions: positions,
		Summary:   summary,
	}, nil
}

// repriceAll fetches quotes for all positions through a bounded worker
// pool. Same-key positions cannot occur here since the key is the
// primary key of the positions table.
func (s *Service) repriceAll(ctx context.Context, positions []domain.Position) []domain.Position {
	jobs := make(chan int, len(positions))
	results := make(chan priceResult, len(positions))

	workers := s.workers
	if len(positions) < workers {
		workers = len(positions)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				p := positions[idx]
				err := s.reprice(ctx, &p)
				results <- priceResult{index: idx, position: p, err: err}
			}
		}()
	}

	for idx := range positions {
		jobs <- idx
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	repriced := make([]domain.Position, len(positions))
	for r := range results {
		if r.err != nil {
			// Keep the previous valuation for unquotable positions.
			s.log.Warn().
				Err(r.err).
				Str("symbol", positions[r.index].Symbol).
				Msg("could not reprice position, keeping previous values")
			repriced[r.index] = positions[r.index]
			continue
		}
		repriced[r.index] = r.position
	}

	return repriced
}

// reprice updates one position's derived fields in place. Domestic
// instruments use the KRW quote directly; foreign ones convert the USD
// quote through the FX cache. Stale data is accepted here so a provider
// outage degrades valuations instead of erasing them.
func (s *Service) reprice(ctx context.Context, p *domain.Position) error {
	quote, err := s.quotes.GetQuote(ctx, p.Symbol, p.Market, marketdata.QuoteOptions{UseStaleOnFailure: true})
	if err != nil {
		return err
	}

	if p.Market == domain.MarketKR {
		p.CurrentPriceKRW = quote.Price
		p.CurrentPriceUSD = 0
	} else {
		rate, err := s.fx.GetRate(ctx, "USD", "KRW")
		if err != nil {
			return err
		}
		p.CurrentPriceUSD = quote.Price
		p.CurrentPriceKRW = quote.Price * rate.Rate
	}

	// Refresh slow-moving metadata opportunistically. Failures are fine;
	// sector and beta stay whatever they were.
	if info, err := s.quotes.GetInstrumentInfo(ctx, p.Symbol, p.Market); err == nil {
		if info.Sector != "" {
			p.Sector = info.Sector
		}
		if info.Beta != nil {
			p.Beta = info.Beta
		}
		if p.Name == "" && info.Name != "" {
			p.Name = info.Name
		}
	}

	p.MarketValue = p.Quantity * p.CurrentPriceKRW
	p.UnrealizedPnL = p.Quantity * (p.CurrentPriceKRW - p.AvgPriceKRW)
	if p.AvgPriceKRW > 0 {
		p.UnrealizedPnLPct = (p.CurrentPriceKRW - p.AvgPriceKRW) / p.AvgPriceKRW * 100
	} else {
		p.UnrealizedPnLPct = 0
	}

	invested := p.Quantity * p.AvgPriceKRW
	if invested > 0 {
		p.TotalReturnPct = (p.UnrealizedPnL + p.DividendsKRW) / invested * 100
	} else {
		p.TotalReturnPct = 0
	}

	p.LastUpdated = s.clock.Now()

	return nil
}
