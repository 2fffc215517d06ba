package snapshots

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/jihoon/wonfolio/internal/domain"
)

// tradingDaysPerYear annualizes daily volatility.
const tradingDaysPerYear = 252

// AnalyticsReport summarizes a user's snapshot series.
type AnalyticsReport struct {
	UserID           string  `json:"user_id"`
	Days             int     `json:"days"`
	CumulativeReturn float64 `json:"cumulative_return_pct"`
	AnnualizedVol    float64 `json:"annualized_volatility_pct"`
	MaxDrawdown      float64 `json:"max_drawdown_pct"`
	BestDailyReturn  float64 `json:"best_daily_return_pct"`
	WorstDailyReturn float64 `json:"worst_daily_return_pct"`
}

// Analytics computes return statistics from up to `days` recent
// snapshots. Needs at least two data points.
func (r *Recorder) Analytics(userID string, days int) (*AnalyticsReport, error) {
	history, err := r.repo.History(userID, days)
	if err != nil {
		return nil, err
	}
	if len(history) < 2 {
		return nil, fmt.Errorf("not enough history for %s: have %d snapshots, need 2", userID, len(history))
	}

	returns := dailyReturns(history)

	report := &AnalyticsReport{
		UserID: userID,
		Days:   len(history),
	}

	if first := history[0].TotalValue; first > 0 {
		report.CumulativeReturn = (history[len(history)-1].TotalValue - first) / first * 100
	}

	report.AnnualizedVol = stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear) * 100
	report.MaxDrawdown = maxDrawdown(history) * 100

	best, worst := returns[0], returns[0]
	for _, ret := range returns[1:] {
		best = math.Max(best, ret)
		worst = math.Min(worst, ret)
	}
	report.BestDailyReturn = best * 100
	report.WorstDailyReturn = worst * 100

	return report, nil
}

// dailyReturns converts the value series to simple day-over-day returns.
// Days following a zero value contribute a zero return.
func dailyReturns(history []domain.PortfolioSnapshot) []float64 {
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (history[i].TotalValue-prev)/prev)
	}
	return returns
}

// maxDrawdown is the largest peak-to-trough decline over the series, as
// a positive fraction.
func maxDrawdown(history []domain.PortfolioSnapshot) float64 {
	var peak, worst float64
	for i := range history {
		value := history[i].TotalValue
		if value > peak {
			peak = value
		}
		if peak > 0 {
			drawdown := (peak - value) / peak
			if drawdown > worst {
				worst = drawdown
			}
		}
	}
	return worst
}
