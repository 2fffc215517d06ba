package snapshots

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
	"github.com/jihoon/wonfolio/internal/modules/valuation"
)

// Recorder turns valuation totals into daily snapshot rows.
type Recorder struct {
	repo      *Repository
	valuation *valuation.Service
	positions *ledger.PositionRepository
	clock     domain.Clock
	log       zerolog.Logger
}

// NewRecorder creates a snapshot recorder.
func NewRecorder(repo *Repository, val *valuation.Service, positions *ledger.PositionRepository, clock domain.Clock, log zerolog.Logger) *Recorder {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Recorder{
		repo:      repo,
		valuation: val,
		positions: positions,
		clock:     clock,
		log:       log.With().Str("service", "snapshots").Logger(),
	}
}

// RecordUser writes today's snapshot for one user from the stored
// valuation. Users with no positions record nothing.
func (r *Recorder) RecordUser(userID string) error {
	v, err := r.valuation.GetValuation(userID)
	if err != nil {
		return fmt.Errorf("failed to get valuation for %s: %w", userID, err)
	}
	if len(v.Positions) == 0 {
		return nil
	}

	snapshot := &domain.PortfolioSnapshot{
		UserID:           userID,
		Date:             r.clock.Now().Format("2006-01-02"),
		TotalValue:       v.Summary.TotalValue,
		TotalInvested:    v.Summary.TotalInvested,
		TotalGainLoss:    v.Summary.TotalGainLoss,
		TotalReturnPct:   v.Summary.TotalReturnPct,
		RealizedProfit:   v.Summary.RealizedProfit,
		UnrealizedProfit: v.Summary.TotalGainLoss,
	}

	return r.repo.Upsert(snapshot)
}

// RecordAll snapshots every user with positions. One user's failure is
// logged and does not stop the others.
func (r *Recorder) RecordAll(ctx context.Context) error {
	users, err := r.positions.GetAllUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RecordUser(userID); err != nil {
			r.log.Error().Err(err).Str("user", userID).Msg("snapshot failed, continuing")
		}
	}

	return nil
}

// History returns the user's recent snapshots, oldest first.
func (r *Recorder) History(userID string, days int) ([]domain.PortfolioSnapshot, error) {
	return r.repo.History(userID, days)
}
