// Package savings manages time-deposit savings plans. Balances are
// derived from the transaction log; the balance column on the account is
// a cache refreshed by RecalculateAll.
package savings

import (
	"time"

	"github.com/jihoon/wonfolio/internal/domain"
)

// interestIncomeTax is the Korean withholding tax on interest income.
const interestIncomeTax = 0.154

// dateLayout for start/end/transaction dates.
const dateLayout = "2006-01-02"

// AfterTaxRate converts a nominal interest rate (percent) to its
// after-tax equivalent.
func AfterTaxRate(rate float64) float64 {
	return rate * (1 - interestIncomeTax)
}

// MonthsBetween is the calendar-month difference between two dates. Days
// are ignored; 2026-01-31 to 2026-02-01 counts as one month.
func MonthsBetween(start, end time.Time) int {
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
}

// ProjectedMaturity estimates the payout of an installment plan. This is
// the simple-interest approximation where the average deposit earns
// interest for half the term (the months/24 factor); it understates the
// payout of plans with monthly compounding.
func ProjectedMaturity(monthlyAmount float64, totalMonths int, afterTaxRate float64) float64 {
	if totalMonths <= 0 {
		return 0
	}
	months := float64(totalMonths)
	return monthlyAmount * months * (1 + afterTaxRate/100*months/24)
}

// Accrual is the derived state of a savings account at a point in time.
type Accrual struct {
	Balance           float64
	TotalMonths       int
	ProjectedMaturity float64
}

// Accrue derives the account state as of a given date. Balance is the
// sum of deposits minus withdrawals dated on or before asOf; the stored
// balance column plays no part.
func Accrue(account *domain.SavingsAccount, txns []domain.SavingsTransaction, asOf time.Time) Accrual {
	cutoff := asOf.Format(dateLayout)

	var balance float64
	for i := range txns {
		if txns[i].Date > cutoff {
			continue
		}
		switch txns[i].Type {
		case domain.SavingsDeposit:
			balance += txns[i].Amount
		case domain.SavingsWithdrawal:
			balance -= txns[i].Amount
		}
	}

	accrual := Accrual{Balance: balance}

	start, errStart := time.Parse(dateLayout, account.StartDate)
	end, errEnd := time.Parse(dateLayout, account.EndDate)
	if errStart == nil && errEnd == nil {
		accrual.TotalMonths = MonthsBetween(start, end)
		accrual.ProjectedMaturity = ProjectedMaturity(account.MonthlyAmount, accrual.TotalMonths, account.AfterTaxRate)
	}

	return accrual
}
