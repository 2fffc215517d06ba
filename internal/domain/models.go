// Package domain contains the core entity types and service contracts.
// The domain layer is pure: no database, HTTP, or logging dependencies.
package domain

import "time"

// Market identifies where an instrument trades. Domestic (KR) instruments
// are quoted in KRW directly; everything else is quoted in USD and
// converted through the FX cache.
const (
	MarketKR = "KR"
	MarketUS = "US"
)

// Transaction types
const (
	TransactionBuy  = "buy"
	TransactionSell = "sell"
)

// Position is a single holding for (user, account, symbol).
// Quantity and average cost are always updated together; a position with
// quantity zero does not exist (it is deleted on the closing sell).
type Position struct {
	UserID   string   `json:"user_id"`
	Account  string   `json:"account"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Market   string   `json:"market"`
	Sector   string   `json:"sector"`
	Beta     *float64 `json:"beta,omitempty"`
	Quantity float64  `json:"quantity"`

	// Cost basis. AvgPriceUSD is set only for foreign instruments, using
	// the FX rate captured at trade time.
	AvgPriceKRW float64  `json:"avg_price_krw"`
	AvgPriceUSD *float64 `json:"avg_price_usd,omitempty"`

	// Valuation fields, recomputed on every revaluation pass.
	CurrentPriceKRW  float64 `json:"current_price_krw"`
	CurrentPriceUSD  float64 `json:"current_price_usd"`
	MarketValue      float64 `json:"market_value"`
	WeightPct        float64 `json:"weight_pct"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	DividendsKRW     float64 `json:"dividends_krw"`

	LastUpdated time.Time `json:"last_updated"`
}

// Key returns the serialization key for position-level locking.
func (p Position) Key() string {
	return p.UserID + "|" + p.Account + "|" + p.Symbol
}

// Transaction is an immutable buy/sell record. It survives deletion of
// its position; PositionAccount/PositionSymbol are nulled at that point.
type Transaction struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PositionAccount *string   `json:"position_account,omitempty"`
	PositionSymbol  *string   `json:"position_symbol,omitempty"`
	Symbol          string    `json:"symbol"`
	Type            string    `json:"type"`
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"`
	Fee             float64   `json:"fee"`
	Tax             float64   `json:"tax"`
	RealizedPnL     *float64  `json:"realized_pnl,omitempty"`
	Memo            string    `json:"memo"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Quote is a cached spot price. Stale is set when the value was served
// past its TTL under explicit caller opt-in.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
}

// InstrumentInfo is slow-moving instrument metadata (sector, beta).
type InstrumentInfo struct {
	Symbol   string   `json:"symbol"`
	Market   string   `json:"market"`
	Name     string   `json:"name"`
	Sector   string   `json:"sector"`
	Beta     *float64 `json:"beta,omitempty"`
	Currency string   `json:"currency"`
	Source   string   `json:"source"`
}

// FXRate is a cached currency conversion rate.
type FXRate struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Rate      float64   `json:"rate"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
}

// PortfolioSnapshot is one aggregated valuation row per user per day.
type PortfolioSnapshot struct {
	UserID           string  `json:"user_id"`
	Date             string  `json:"date"` // YYYY-MM-DD
	TotalValue       float64 `json:"total_value"`
	TotalInvested    float64 `json:"total_invested"`
	TotalGainLoss    float64 `json:"total_gain_loss"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	RealizedProfit   float64 `json:"realized_profit"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

// SavingsAccount is a time-deposit savings plan. Balance is derived from
// the transaction log; the column is a cache, never the source of truth.
type SavingsAccount struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Bank              string    `json:"bank"`
	AccountNumber     string    `json:"account_number"`
	SavingsType       string    `json:"savings_type"`
	StartDate         string    `json:"start_date"` // YYYY-MM-DD
	EndDate           string    `json:"end_date"`   // YYYY-MM-DD
	MonthlyAmount     float64   `json:"monthly_amount"`
	InterestRate      float64   `json:"interest_rate"`
	AfterTaxRate      float64   `json:"after_tax_rate"`
	Balance           float64   `json:"balance"`
	ProjectedMaturity float64   `json:"projected_maturity"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Savings transaction types
const (
	SavingsDeposit    = "deposit"
	SavingsWithdrawal = "withdrawal"
)

// SavingsTransaction is an append-only deposit/withdrawal record.
type SavingsTransaction struct {
	ID        string  `json:"id"`
	AccountID string  `json:"account_id"`
	UserID    string  `json:"user_id"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	Memo      string  `json:"memo"`
}
