package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// ClosedPositionName labels transaction rows whose position was fully
// sold and deleted.
const ClosedPositionName = "closed position"

// TransactionRecord is a transaction joined with its position's current
// name for display.
type TransactionRecord struct {
	domain.Transaction
	PositionName string `json:"position_name"`
}

// TransactionRepository handles trade history persistence in portfolio.db.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repository", "transactions").Logger(),
	}
}

// InsertTx records a trade inside an open transaction.
func (r *TransactionRepository) InsertTx(tx *sql.Tx, t *domain.Transaction) error {
	var account, symbol, realized interface{}
	if t.PositionAccount != nil {
		account = *t.PositionAccount
	}
	if t.PositionSymbol != nil {
		symbol = *t.PositionSymbol
	}
	if t.RealizedPnL != nil {
		realized = *t.RealizedPnL
	}

	_, err := tx.Exec(`
		INSERT INTO transactions (
			id, user_id, position_account, position_symbol, symbol, type,
			quantity, price, fee, tax, realized_pnl, memo, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, account, symbol, t.Symbol, t.Type,
		t.Quantity, t.Price, t.Fee, t.Tax, realized, t.Memo, t.ExecutedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
	}

	return nil
}

// ListForUser returns the user's most recent transactions, newest first,
// with position names resolved. Rows whose position was deleted show the
// closed-position placeholder.
func (r *TransactionRepository) ListForUser(userID string, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT t.id, t.user_id, t.position_account, t.position_symbol, t.symbol,
		       t.type, t.quantity, t.price, t.fee, t.tax, t.realized_pnl,
		       t.memo, t.executed_at, p.name
		FROM transactions t
		LEFT JOIN positions p
		  ON p.user_id = t.user_id
		 AND p.account = t.position_account
		 AND p.symbol = t.position_symbol
		WHERE t.user_id = ?
		ORDER BY t.executed_at DESC, t.id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", userID, err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var rec TransactionRecord
		var account, symbol, name sql.NullString
		var realized sql.NullFloat64
		var executedAt int64

		err := rows.Scan(
			&rec.ID, &rec.UserID, &account, &symbol, &rec.Symbol,
			&rec.Type, &rec.Quantity, &rec.Price, &rec.Fee, &rec.Tax, &realized,
			&rec.Memo, &executedAt, &name,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if account.Valid {
			rec.PositionAccount = &account.String
		}
		if symbol.Valid {
			rec.PositionSymbol = &symbol.String
		}
		if realized.Valid {
			rec.RealizedPnL = &realized.Float64
		}
		rec.ExecutedAt = time.Unix(executedAt, 0)

		if name.Valid && name.String != "" {
			rec.PositionName = name.String
		} else {
			rec.PositionName = ClosedPositionName
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// RealizedProfitForUser sums realized P&L across the user's sells.
func (r *TransactionRepository) RealizedProfitForUser(userID string) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRow(
		"SELECT SUM(realized_pnl) FROM transactions WHERE user_id = ? AND type = 'sell'",
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized profit: %w", err)
	}
	return total.Float64, nil
}
