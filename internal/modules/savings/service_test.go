package savings

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoon/wonfolio/internal/domain"
	testingpkg "github.com/jihoon/wonfolio/internal/testing"
)

func newSavingsService(t *testing.T) *Service {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	conn := db.Conn()
	clock := domain.FixedClock{T: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	return NewService(conn, NewRepository(conn, log), clock, log)
}

func defaultRequest() CreateAccountRequest {
	return CreateAccountRequest{
		UserID:        "u1",
		Name:          "housing fund",
		Bank:          "KB",
		StartDate:     "2026-01-01",
		EndDate:       "2027-01-01",
		MonthlyAmount: 100000,
		InterestRate:  4.0,
	}
}

func TestAfterTaxRate(t *testing.T) {
	assert.InDelta(t, 3.384, AfterTaxRate(4.0), 1e-9)
	assert.Zero(t, AfterTaxRate(0))
}

func TestMonthsBetween(t *testing.T) {
	parse := func(s string) time.Time {
		d, err := time.Parse(dateLayout, s)
		require.NoError(t, err)
		return d
	}

	assert.Equal(t, 12, MonthsBetween(parse("2026-01-01"), parse("2027-01-01")))
	assert.Equal(t, 1, MonthsBetween(parse("2026-01-31"), parse("2026-02-01")), "days are ignored")
	assert.Equal(t, 0, MonthsBetween(parse("2026-01-01"), parse("2026-01-20")))
}

func TestProjectedMaturity_KnownScenario(t *testing.T) {
	// 100,000/month for 12 months at 3% after tax:
	// 1,200,000 * (1 + 0.03 * 12/24) = 1,218,000.
	assert.InDelta(t, 1218000.0, ProjectedMaturity(100000, 12, 3.0), 1e-6)
	assert.Zero(t, ProjectedMaturity(100000, 0, 3.0))
}

func TestCreateAccount_WritesOpeningDeposit(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)
	assert.InDelta(t, 3.384, account.AfterTaxRate, 1e-9)
	assert.Equal(t, 100000.0, account.Balance)

	txns, err := svc.Transactions(account.ID, "u1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.SavingsDeposit, txns[0].Type)
	assert.Equal(t, "2026-01-01", txns[0].Date)
	assert.Equal(t, 100000.0, txns[0].Amount)
}

func TestCreateAccount_Validation(t *testing.T) {
	svc := newSavingsService(t)

	req := defaultRequest()
	req.MonthlyAmount = 0
	_, err := svc.CreateAccount(req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	req = defaultRequest()
	req.EndDate = "2025-01-01"
	_, err = svc.CreateAccount(req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	req = defaultRequest()
	req.StartDate = "01/01/2026"
	_, err = svc.CreateAccount(req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestDepositAndWithdraw_BalanceFromLog(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)

	_, err = svc.Deposit(account.ID, "u1", "2026-02-01", 100000, "february")
	require.NoError(t, err)

	_, err = svc.Withdraw(account.ID, "u1", "2026-02-15", 50000, "emergency")
	require.NoError(t, err)

	projection, err := svc.Projection(account.ID, "u1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 150000.0, projection.Balance)
	assert.Equal(t, 12, projection.TotalMonths)

	updated, err := svc.Account(account.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150000.0, updated.Balance)
}

func TestWithdraw_RejectedBeyondBalance(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)

	_, err = svc.Withdraw(account.ID, "u1", "2026-02-01", 200000, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	// Balance unchanged, no transaction recorded.
	txns, err := svc.Transactions(account.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestProjection_CutoffDate(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)
	_, err = svc.Deposit(account.ID, "u1", "2026-06-01", 100000, "")
	require.NoError(t, err)

	// Only the opening deposit falls before the cutoff.
	projection, err := svc.Projection(account.ID, "u1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 100000.0, projection.Balance)
}

func TestUpdateAccount_RateChangeRecomputesProjection(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)

	newRate := 5.0
	updated, err := svc.UpdateAccount(account.ID, "u1", AccountPatch{InterestRate: &newRate})
	require.NoError(t, err)
	assert.Equal(t, 5.0, updated.InterestRate)
	assert.InDelta(t, AfterTaxRate(5.0), updated.AfterTaxRate, 1e-9)
	assert.InDelta(t, ProjectedMaturity(100000, 12, AfterTaxRate(5.0)), updated.ProjectedMaturity, 1e-6)

	// Untouched fields survive.
	assert.Equal(t, "housing fund", updated.Name)
}

func TestDeleteAccount_RemovesLog(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)
	_, err = svc.Deposit(account.ID, "u1", "2026-02-01", 100000, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(account.ID, "u1"))

	_, err = svc.Account(account.ID, "u1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	txns, err := svc.Transactions(account.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, txns)

	err = svc.DeleteAccount("ghost", "u1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRecalculateAll_RefreshesCachedColumns(t *testing.T) {
	svc := newSavingsService(t)

	account, err := svc.CreateAccount(defaultRequest())
	require.NoError(t, err)

	// Corrupt the cached balance, then let the job repair it from the log.
	_, err = svc.db.Exec("UPDATE savings_accounts SET balance = 0, projected_maturity = 0 WHERE id = ?", account.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RecalculateAll(context.Background()))

	repaired, err := svc.Account(account.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100000.0, repaired.Balance)
	assert.InDelta(t, ProjectedMaturity(100000, 12, AfterTaxRate(4.0)), repaired.ProjectedMaturity, 1e-6)
}
