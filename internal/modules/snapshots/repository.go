// Package snapshots records one aggregated portfolio valuation per user
// per day and derives time-series analytics from the stored history.
package snapshots

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// Repository handles portfolio history persistence in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "snapshots").Logger(),
	}
}

// Upsert writes the snapshot for (user, date), replacing any earlier run
// of the same day. The last run of a day wins.
func (r *Repository) Upsert(s *domain.PortfolioSnapshot) error {
	_, err := r.db.Exec(`
		INSERT INTO portfolio_history (
			user_id, date, total_value, total_invested, total_gain_loss,
			total_return_pct, realized_profit, unrealized_profit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			total_value = excluded.total_value,
			total_invested = excluded.total_invested,
			total_gain_loss = excluded.total_gain_loss,
			total_return_pct = excluded.total_return_pct,
			realized_profit = excluded.realized_profit,
			unrealized_profit = excluded.unrealized_profit`,
		s.UserID, s.Date, s.TotalValue, s.TotalInvested, s.TotalGainLoss,
		s.TotalReturnPct, s.RealizedProfit, s.UnrealizedProfit,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s/%s: %w", s.UserID, s.Date, err)
	}

	return nil
}

// History returns the user's most recent snapshots in ascending date
// order, at most limit rows.
func (r *Repository) History(userID string, limit int) ([]domain.PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	// Newest rows first to apply the limit, then reversed for charting.
	rows, err := r.db.Query(`
		SELECT user_id, date, total_value, total_invested, total_gain_loss,
		       total_return_pct, realized_profit, unrealized_profit
		FROM portfolio_history
		WHERE user_id = ?
		ORDER BY date DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", userID, err)
	}
	defer rows.Close()

	var snapshots []domain.PortfolioSnapshot
	for rows.Next() {
		var s domain.PortfolioSnapshot
		err := rows.Scan(
			&s.UserID, &s.Date, &s.TotalValue, &s.TotalInvested, &s.TotalGainLoss,
			&s.TotalReturnPct, &s.RealizedProfit, &s.UnrealizedProfit,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}

	return snapshots, nil
}
