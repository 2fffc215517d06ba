package savings

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/domain"
)

// CreateAccountRequest describes a new savings plan.
type CreateAccountRequest struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Bank          string  `json:"bank"`
	AccountNumber string  `json:"account_number"`
	SavingsType   string  `json:"savings_type"`
	StartDate     string  `json:"start_date"` // YYYY-MM-DD
	EndDate       string  `json:"end_date"`   // YYYY-MM-DD
	MonthlyAmount float64 `json:"monthly_amount"`
	InterestRate  float64 `json:"interest_rate"`
}

// AccountPatch is a partial update. Nil fields are left unchanged.
// Changing InterestRate recomputes the after-tax rate and projection.
type AccountPatch struct {
	Name          *string
	Bank          *string
	AccountNumber *string
	SavingsType   *string
	EndDate       *string
	MonthlyAmount *float64
	InterestRate  *float64
}

// Service manages savings accounts and their transaction logs.
type Service struct {
	db    *sql.DB
	repo  *Repository
	clock domain.Clock
	log   zerolog.Logger
}

// NewService creates a savings service.
func NewService(db *sql.DB, repo *Repository, clock domain.Clock, log zerolog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		db:    db,
		repo:  repo,
		clock: clock,
		log:   log.With().Str("service", "savings").Logger(),
	}
}

// CreateAccount opens a savings plan and writes the opening deposit to
// the transaction log, dated on the start date.
func (s *Service) CreateAccount(req CreateAccountRequest) (*domain.SavingsAccount, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: user and name are required", domain.ErrInvalidOrder)
	}
	if req.MonthlyAmount <= 0 {
		return nil, fmt.Errorf("%w: monthly amount must be positive", domain.ErrInvalidOrder)
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start date %q", domain.ErrInvalidOrder, req.StartDate)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad end date %q", domain.ErrInvalidOrder, req.EndDate)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end date must be after start date", domain.ErrInvalidOrder)
	}

	savingsType := req.SavingsType
	if savingsType == "" {
		savingsType = "installment"
	}

	now := s.clock.Now()
	afterTax := AfterTaxRate(req.InterestRate)
	totalMonths := MonthsBetween(start, end)

	account := &domain.SavingsAccount{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Name:              req.Name,
		Bank:              req.Bank,
		AccountNumber:     req.AccountNumber,
		SavingsType:       savingsType,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		MonthlyAmount:     req.MonthlyAmount,
		InterestRate:      req.InterestRate,
		AfterTaxRate:      afterTax,
		Balance:           req.MonthlyAmount,
		ProjectedMaturity: ProjectedMaturity(req.MonthlyAmount, totalMonths, afterTax),
		LastUpdated:       now,
	}

	opening := &domain.SavingsTransaction{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		UserID:    req.UserID,
		Date:      req.StartDate,
		Amount:    req.MonthlyAmount,
		Type:      domain.SavingsDeposit,
		Memo:      "opening deposit",
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.repo.InsertTx(tx, account); err != nil {
			return err
		}
		return s.repo.InsertTransactionTx(tx, opening)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create savings account: %v", domain.ErrPersistenceFailure, err)
	}

	s.log.Info().Str("user", req.UserID).Str("account", account.ID).Str("name", req.Name).Msg("savings account created")
	return account, nil
}

// Account returns one account, or ErrAccountNotFound.
func (s *Service) Account(id, userID string) (*domain.SavingsAccount, error) {
	a, err := s.repo.GetByID(id, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return a, nil
}

// Accounts returns a user's savings accounts.
func (s *Service) Accounts(userID string) ([]domain.SavingsAccount, error) {
	return s.repo.GetAllForUser(userID)
}

// UpdateAccount applies a partial edit. A rate change recomputes the
// after-tax rate and the maturity projection.
func (s *Service) UpdateAccount(id, userID string, patch AccountPatch) (*domain.SavingsAccount, error) {
	account, err := s.Account(id, userID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be blank", domain.ErrInvalidOrder)
		}
		account.Name = *patch.Name
	}
	if patch.Bank != nil {
		account.Bank = *patch.Bank
	}
	if patch.AccountNumber != nil {
		account.AccountNumber = *patch.AccountNumber
	}
	if patch.SavingsType != nil {
		account.SavingsType = *patch.SavingsType
	}
	if patch.EndDate != nil {
		if _, err := time.Parse(dateLayout, *patch.EndDate); err != nil {
			return nil, fmt.Errorf("%w: bad end date %q", domain.ErrInvalidOrder, *patch.EndDate)
		}
		account.EndDate = *patch.EndDate
	}
	if patch.MonthlyAmount != nil {
		if *patch.MonthlyAmount <= 0 {
			return nil, fmt.Errorf("%w: monthly amount must be positive", domain.ErrInvalidOrder)
		}
		account.MonthlyAmount = *patch.MonthlyAmount
	}
	if patch.InterestRate != nil {
		account.InterestRate = *patch.InterestRate
		account.AfterTaxRate = AfterTaxRate(*patch.InterestRate)
	}

	start, errStart := time.Parse(dateLayout, account.StartDate)
	end, errEnd := time.Parse(dateLayout, account.EndDate)
	if errStart == nil && errEnd == nil {
		months := MonthsBetween(start, end)
		account.ProjectedMaturity = ProjectedMaturity(account.MonthlyAmount, months, account.AfterTaxRate)
	}
	account.LastUpdated = s.clock.Now()

	if err := s.repo.Update(account); err != nil {
		return nil, err
	}

	return account, nil
}

// DeleteAccount removes an account together with its transaction log.
func (s *Service) DeleteAccount(id, userID string) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return s.repo.DeleteTx(tx, id, userID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("user", userID).Str("account", id).Msg("savings account deleted")
	return nil
}

// Deposit appends a deposit and refreshes the cached balance.
func (s *Service) Deposit(id, userID, date string, amount float64, memo string) (*domain.SavingsTransaction, error) {
	return s.addTransaction(id, userID, date, amount, domain.SavingsDeposit, memo)
}

// Withdraw appends a withdrawal. Withdrawing more than the current
// balance is rejected with no effect.
func (s *Service) Withdraw(id, userID, date string, amount float64, memo string) (*domain.SavingsTransaction, error) {
	return s.addTransaction(id, userID, date, amount, domain.SavingsWithdrawal, memo)
}

func (s *Service) addTransaction(id, userID, date string, amount float64, txType, memo string) (*domain.SavingsTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidOrder)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: bad date %q", domain.ErrInvalidOrder, date)
	}

	account, err := s.Account(id, userID)
	if err != nil {
		return nil, err
	}

	txns, err := s.repo.Transactions(id, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	accrual := Accrue(account, txns, s.clock.Now())
	if txType == domain.SavingsWithdrawal && amount > accrual.Balance {
		return nil, fmt.Errorf("%w: withdrawing %.0f but balance is %.0f",
			domain.ErrInsufficientQuantity, amount, accrual.Balance)
	}

	txn := &domain.SavingsTransaction{
		ID:        uuid.New().String(),
		AccountID: id,
		UserID:    userID,
		Date:      date,
		Amount:    amount,
		Type:      txType,
		Memo:      memo,
	}

	newBalance := accrual.Balance + amount
	if txType == domain.SavingsWithdrawal {
		newBalance = accrual.Balance - amount
	}

	now := s.clock.Now()
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.repo.InsertTransactionTx(tx, txn); err != nil {
			return err
		}
		_, err := tx.Exec(
			"UPDATE savings_accounts SET balance = ?, last_updated = ? WHERE id = ? AND user_id = ?",
			newBalance, now.Unix(), id, userID,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: savings %s: %v", domain.ErrPersistenceFailure, txType, err)
	}

	return txn, nil
}

// Transactions returns an account's log in date order.
func (s *Service) Transactions(id, userID string) ([]domain.SavingsTransaction, error) {
	return s.repo.Transactions(id, userID)
}

// Projection derives the account state as of a date without touching
// stored columns.
func (s *Service) Projection(id, userID string, asOf time.Time) (*Accrual, error) {
	account, err := s.Account(id, userID)
	if err != nil {
		return nil, err
	}

	txns, err := s.repo.Transactions(id, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	accrual := Accrue(account, txns, asOf)
	return &accrual, nil
}

// RecalculateAll refreshes the cached balance and projection columns for
// every account from the transaction logs. One account's failure is
// logged and does not stop the others.
func (s *Service) RecalculateAll(ctx context.Context) error {
	users, err := s.repo.GetAllUsers()
	if err != nil {
		return fmt.Errorf("failed to list savings users: %w", err)
	}

	now := s.clock.Now()
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}

		accounts, err := s.repo.GetAllForUser(userID)
		if err != nil {
			s.log.Error().Err(err).Str("user", userID).Msg("failed to load savings accounts, continuing")
			continue
		}

		for i := range accounts {
			account := &accounts[i]
			txns, err := s.repo.Transactions(account.ID, userID)
			if err != nil {
				s.log.Error().Err(err).Str("account", account.ID).Msg("failed to load savings log, continuing")
				continue
			}

			accrual := Accrue(account, txns, now)
			if err := s.repo.UpdateDerived(account.ID, userID, accrual.Balance, accrual.ProjectedMaturity, now); err != nil {
				s.log.Error().Err(err).Str("account", account.ID).Msg("failed to refresh savings columns, continuing")
			}
		}
	}

	return nil
}
