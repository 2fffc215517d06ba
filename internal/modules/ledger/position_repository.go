// Package ledger is the system of record for positions and their trade
// history. Mutations go through Service, which serializes same-key
// trades and keeps position and transaction writes atomic.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// PositionRepository handles position persistence in portfolio.db.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repository", "positions").Logger(),
	}
}

const positionColumns = `user_id, account, symbol, name, market, sector, beta,
	quantity, avg_price_krw, avg_price_usd,
	current_price_krw, current_price_usd, market_value, weight_pct,
	unrealized_pnl, unrealized_pnl_pct, total_return_pct, dividends_krw, last_updated`

func scanPosition(row interface{ Scan(...interface{}) error }) (*domain.Position, error) {
	var p domain.Position
	var beta, avgUSD sql.NullFloat64
	var lastUpdated int64

	err := row.Scan(
		&p.UserID, &p.Account, &p.Symbol, &p.Name, &p.Market, &p.Sector, &beta,
		&p.Quantity, &p.AvgPriceKRW, &avgUSD,
		&p.CurrentPriceKRW, &p.CurrentPriceUSD, &p.MarketValue, &p.WeightPct,
		&p.UnrealizedPnL, &p.UnrealizedPnLPct, &p.TotalReturnPct, &p.DividendsKRW, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if beta.Valid {
		p.Beta = &beta.Float64
	}
	if avgUSD.Valid {
		p.AvgPriceUSD = &avgUSD.Float64
	}
	p.LastUpdated = time.Unix(lastUpdated, 0)

	return &p, nil
}

// GetByKey returns the position for (user, account, symbol), or nil if
// it does not exist.
func (r *PositionRepository) GetByKey(userID, account, symbol string) (*domain.Position, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM positions WHERE user_id = ? AND account = ? AND symbol = ?",
		positionColumns,
	)

	p, err := scanPosition(r.db.QueryRow(query, userID, account, symbol))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s/%s: %w", account, symbol, err)
	}

	return p, nil
}

// GetAllForUser returns every position held by a user.
func (r *PositionRepository) GetAllForUser(userID string) ([]domain.Position, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM positions WHERE user_id = ? ORDER BY account, symbol",
		positionColumns,
	)

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}

	return positions, rows.Err()
}

// GetAllUsers returns the distinct user IDs that hold positions.
func (r *PositionRepository) GetAllUsers() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT user_id FROM positions ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

// InsertTx creates a new position inside an open transaction.
func (r *PositionRepository) InsertTx(tx *sql.Tx, p *domain.Position) error {
	var beta, avgUSD interface{}
	if p.Beta != nil {
		beta = *p.Beta
	}
	if p.AvgPriceUSD != nil {
		avgUSD = *p.AvgPriceUSD
	}

	_, err := tx.Exec(`
		INSERT INTO positions (
			user_id, account, symbol, name, market, sector, beta,
			quantity, avg_price_krw, avg_price_usd, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Account, p.Symbol, p.Name, p.Market, p.Sector, beta,
		p.Quantity, p.AvgPriceKRW, avgUSD, p.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", p.Symbol, err)
	}

	return nil
}

// UpdateTradeTx rewrites quantity and cost basis after a trade, inside
// an open transaction.
func (r *PositionRepository) UpdateTradeTx(tx *sql.Tx, userID, account, symbol string, quantity, avgKRW float64, avgUSD *float64, at time.Time) error {
	var usd interface{}
	if avgUSD != nil {
		usd = *avgUSD
	}

	result, err := tx.Exec(`
		UPDATE positions
		SET quantity = ?, avg_price_krw = ?, avg_price_usd = ?, last_updated = ?
		WHERE user_id = ? AND account = ? AND symbol = ?`,
		quantity, avgKRW, usd, at.Unix(), userID, account, symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to update position %s/%s: %w", account, symbol, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPositionNotFound
	}

	return nil
}

// DeleteTx removes a closed position and detaches its transactions,
// inside an open transaction. Transactions are immutable history and
// must survive the position.
func (r *PositionRepository) DeleteTx(tx *sql.Tx, userID, account, symbol string) error {
	_, err := tx.Exec(`
		UPDATE transactions
		SET position_account = NULL, position_symbol = NULL
		WHERE user_id = ? AND position_account = ? AND position_symbol = ?`,
		userID, account, symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to detach transactions for %s/%s: %w", account, symbol, err)
	}

	_, err = tx.Exec(
		"DELETE FROM positions WHERE user_id = ? AND account = ? AND symbol = ?",
		userID, account, symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to delete position %s/%s: %w", account, symbol, err)
	}

	return nil
}

// UpdateValuation writes the recomputed valuation fields for one position.
func (r *PositionRepository) UpdateValuation(p *domain.Position) error {
	var beta interface{}
	if p.Beta != nil {
		beta = *p.Beta
	}

	_, err := r.db.Exec(`
		UPDATE positions
		SET current_price_krw = ?, current_price_usd = ?, market_value = ?,
		    weight_pct = ?, unrealized_pnl = ?, unrealized_pnl_pct = ?,
		    total_return_pct = ?, sector = ?, beta = ?, name = ?, last_updated = ?
		WHERE user_id = ? AND account = ? AND symbol = ?`,
		p.CurrentPriceKRW, p.CurrentPriceUSD, p.MarketValue,
		p.WeightPct, p.UnrealizedPnL, p.UnrealizedPnLPct,
		p.TotalReturnPct, p.Sector, beta, p.Name, p.LastUpdated.Unix(),
		p.UserID, p.Account, p.Symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to update valuation for %s/%s: %w", p.Account, p.Symbol, err)
	}

	return nil
}

// PositionPatch is a partial update. Nil fields are left unchanged.
type PositionPatch struct {
	Name         *string
	Sector       *string
	Beta         *float64
	DividendsKRW *float64
}

// Validate rejects values that would corrupt the position row.
func (p PositionPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name cannot be blank", domain.ErrInvalidOrder)
	}
	if p.DividendsKRW != nil && *p.DividendsKRW < 0 {
		return fmt.Errorf("%w: dividends cannot be negative", domain.ErrInvalidOrder)
	}
	return nil
}

// ApplyPatch updates only the fields set on the patch.
func (r *PositionRepository) ApplyPatch(userID, account, symbol string, patch PositionPatch, at time.Time) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	setClauses := []string{"last_updated = ?"}
	args := []interface{}{at.Unix()}

	if patch.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Sector != nil {
		setClauses = append(setClauses, "sector = ?")
		args = append(args, *patch.Sector)
	}
	if patch.Beta != nil {
		setClauses = append(setClauses, "beta = ?")
		args = append(args, *patch.Beta)
	}
	if patch.DividendsKRW != nil {
		setClauses = append(setClauses, "dividends_krw = ?")
		args = append(args, *patch.DividendsKRW)
	}

	query := fmt.Sprintf(
		"UPDATE positions SET %s WHERE user_id = ? AND account = ? AND symbol = ?",
		strings.Join(setClauses, ", "),
	)
	args = append(args, userID, account, symbol)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch position %s/%s: %w", account, symbol, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPositionNotFound
	}

	return nil
}
