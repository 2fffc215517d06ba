package savings

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// Repository handles savings persistence in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a savings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "savings").Logger(),
	}
}

const accountColumns = `id, user_id, name, bank, account_number, savings_type,
	start_date, end_date, monthly_amount, interest_rate, after_tax_rate,
	balance, projected_maturity, last_updated`

func scanAccount(row interface{ Scan(...interface{}) error }) (*domain.SavingsAccount, error) {
	var a domain.SavingsAccount
	var lastUpdated int64

	err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &a.Bank, &a.AccountNumber, &a.SavingsType,
		&a.StartDate, &a.EndDate, &a.MonthlyAmount, &a.InterestRate, &a.AfterTaxRate,
		&a.Balance, &a.ProjectedMaturity, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	a.LastUpdated = time.Unix(lastUpdated, 0)
	return &a, nil
}

// GetByID returns one account, or nil if it does not exist.
func (r *Repository) GetByID(id, userID string) (*domain.SavingsAccount, error) {
	query := fmt.Sprintf("SELECT %s FROM savings_accounts WHERE id = ? AND user_id = ?", accountColumns)

	a, err := scanAccount(r.db.QueryRow(query, id, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get savings account %s: %w", id, err)
	}

	return a, nil
}

// GetAllForUser returns a user's savings accounts.
func (r *Repository) GetAllForUser(userID string) ([]domain.SavingsAccount, error) {
	query := fmt.Sprintf("SELECT %s FROM savings_accounts WHERE user_id = ? ORDER BY start_date", accountColumns)

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings accounts for %s: %w", userID, err)
	}
	defer rows.Close()

	var accounts []domain.SavingsAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan savings account: %w", err)
		}
		accounts = append(accounts, *a)
	}

	return accounts, rows.Err()
}

// GetAllUsers returns the distinct user IDs with savings accounts.
func (r *Repository) GetAllUsers() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT user_id FROM savings_accounts ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query savings users: %w", err)
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

// InsertTx creates an account inside an open transaction.
func (r *Repository) InsertTx(tx *sql.Tx, a *domain.SavingsAccount) error {
	_, err := tx.Exec(`
		INSERT INTO savings_accounts (
			id, user_id, name, bank, account_number, savings_type,
			start_date, end_date, monthly_amount, interest_rate, after_tax_rate,
			balance, projected_maturity, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Bank, a.AccountNumber, a.SavingsType,
		a.StartDate, a.EndDate, a.MonthlyAmount, a.InterestRate, a.AfterTaxRate,
		a.Balance, a.ProjectedMaturity, a.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert savings account %s: %w", a.ID, err)
	}

	return nil
}

// UpdateDerived rewrites the cached balance and projection columns.
func (r *Repository) UpdateDerived(id, userID string, balance, projected float64, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE savings_accounts
		SET balance = ?, projected_maturity = ?, last_updated = ?
		WHERE id = ? AND user_id = ?`,
		balance, projected, at.Unix(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update derived columns for %s: %w", id, err)
	}

	return nil
}

// Update rewrites the editable account fields.
func (r *Repository) Update(a *domain.SavingsAccount) error {
	result, err := r.db.Exec(`
		UPDATE savings_accounts
		SET name = ?, bank = ?, account_number = ?, savings_type = ?,
		    start_date = ?, end_date = ?, monthly_amount = ?,
		    interest_rate = ?, after_tax_rate = ?, projected_maturity = ?,
		    last_updated = ?
		WHERE id = ? AND user_id = ?`,
		a.Name, a.Bank, a.AccountNumber, a.SavingsType,
		a.StartDate, a.EndDate, a.MonthlyAmount,
		a.InterestRate, a.AfterTaxRate, a.ProjectedMaturity,
		a.LastUpdated.Unix(), a.ID, a.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update savings account %s: %w", a.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

// DeleteTx removes an account and its transaction log inside an open
// transaction. Savings history does not outlive its account, unlike
// position trade history.
func (r *Repository) DeleteTx(tx *sql.Tx, id, userID string) error {
	if _, err := tx.Exec("DELETE FROM savings_transactions WHERE account_id = ? AND user_id = ?", id, userID); err != nil {
		return fmt.Errorf("failed to delete savings transactions for %s: %w", id, err)
	}

	result, err := tx.Exec("DELETE FROM savings_accounts WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete savings account %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

// InsertTransactionTx appends a deposit or withdrawal inside an open
// transaction.
func (r *Repository) InsertTransactionTx(tx *sql.Tx, t *domain.SavingsTransaction) error {
	_, err := tx.Exec(`
		INSERT INTO savings_transactions (id, account_id, user_id, date, amount, type, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.UserID, t.Date, t.Amount, t.Type, t.Memo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert savings transaction %s: %w", t.ID, err)
	}

	return nil
}

// Transactions returns an account's transaction log in date order.
func (r *Repository) Transactions(accountID, userID string) ([]domain.SavingsTransaction, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, user_id, date, amount, type, memo
		FROM savings_transactions
		WHERE account_id = ? AND user_id = ?
		ORDER BY date, id`,
		accountID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings transactions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var txns []domain.SavingsTransaction
	for rows.Next() {
		var t domain.SavingsTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Date, &t.Amount, &t.Type, &t.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan savings transaction: %w", err)
		}
		txns = append(txns, t)
	}

	return txns, rows.Err()
}
