// Package risk derives portfolio-level risk indicators from stored
// position weights. The indicators are screening heuristics, not a risk
// model: thresholds are fixed placeholders chosen for readability.
package risk

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
)

// Concentration bands on the Herfindahl-Hirschman index over sector
// weights, using the antitrust convention (weights in percent, squared).
const (
	HHILowThreshold      = 1500.0
	HHIModerateThreshold = 2500.0
)

// DefaultBeta is assumed when no position has a known beta.
const DefaultBeta = 1.0

// Risk levels, lowest to highest.
const (
	LevelVeryLow  = "very_low"
	LevelLow      = "low"
	LevelModerate = "moderate"
	LevelHigh     = "high"
	LevelVeryHigh = "very_high"
)

// Report is the full risk view for one user's portfolio.
type Report struct {
	UserID            string             `json:"user_id"`
	PortfolioBeta     float64            `json:"portfolio_beta"`
	BetaCoveragePct   float64            `json:"beta_coverage_pct"`
	HHI               float64            `json:"hhi"`
	ConcentrationBand string             `json:"concentration_band"`
	Top5WeightPct     float64            `json:"top5_weight_pct"`
	SectorWeights     map[string]float64 `json:"sector_weights"`
	CompositeLevel    string             `json:"composite_level"`
	PositionCount     int                `json:"position_count"`
}

// Analyzer computes risk reports from the position ledger.
type Analyzer struct {
	positions *ledger.PositionRepository
	log       zerolog.Logger
}

// NewAnalyzer creates a risk analyzer.
func NewAnalyzer(positions *ledger.PositionRepository, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		positions: positions,
		log:       log.With().Str("service", "risk").Logger(),
	}
}

// Analyze builds the risk report for a user. Requires a prior valuation
// pass so position weights are current.
func (a *Analyzer) Analyze(userID string) (*Report, error) {
	positions, err := a.positions.GetAllForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for %s: %w", userID, err)
	}

	report := &Report{
		UserID:        userID,
		PositionCount: len(positions),
		SectorWeights: sectorWeights(positions),
	}
	if len(positions) == 0 {
		report.PortfolioBeta = DefaultBeta
		report.ConcentrationBand = LevelLow
		report.CompositeLevel = LevelVeryLow
		return report, nil
	}

	report.PortfolioBeta, report.BetaCoveragePct = portfolioBeta(positions)
	report.HHI = hhi(report.SectorWeights)
	report.ConcentrationBand = concentrationBand(report.HHI)
	report.Top5WeightPct = topNWeight(positions, 5)
	report.CompositeLevel = compositeLevel(report.PortfolioBeta, report.HHI, report.Top5WeightPct)

	return report, nil
}

// portfolioBeta is the weight-averaged beta over positions whose beta is
// known, with the weights renormalized to that subset. Positions with
// unknown beta are excluded rather than guessed at; when none is known
// the portfolio gets DefaultBeta. Also returns the share of portfolio
// weight covered by known betas.
func portfolioBeta(positions []domain.Position) (float64, float64) {
	var betas, weights []float64
	var knownWeight, totalWeight float64

	for i := range positions {
		totalWeight += positions[i].WeightPct
		if positions[i].Beta == nil {
			continue
		}
		betas = append(betas, *positions[i].Beta)
		weights = append(weights, positions[i].WeightPct)
		knownWeight += positions[i].WeightPct
	}

	if len(betas) == 0 || knownWeight == 0 {
		return DefaultBeta, 0
	}

	coverage := 0.0
	if totalWeight > 0 {
		coverage = knownWeight / totalWeight * 100
	}

	// stat.Mean normalizes by the weight sum, which is exactly the
	// renormalization over the known-beta subset.
	return stat.Mean(betas, weights), coverage
}

// sectorWeights sums position weights per sector. Positions without a
// sector classification are grouped under "unclassified".
func sectorWeights(positions []domain.Position) map[string]float64 {
	weights := make(map[string]float64)
	for i := range positions {
		sector := positions[i].Sector
		if sector == "" {
			sector = "unclassified"
		}
		weights[sector] += positions[i].WeightPct
	}
	return weights
}

// hhi is the Herfindahl-Hirschman index over sector weight percentages.
// A single-sector portfolio scores 10000.
func hhi(sectors map[string]float64) float64 {
	var sum float64
	for _, w := range sectors {
		sum += w * w
	}
	return sum
}

func concentrationBand(index float64) string {
	switch {
	case index < HHILowThreshold:
		return LevelLow
	case index < HHIModerateThreshold:
		return LevelModerate
	default:
		return LevelHigh
	}
}

// topNWeight is the combined weight of the n largest positions.
func topNWeight(positions []domain.Position, n int) float64 {
	weights := make([]float64, len(positions))
	for i := range positions {
		weights[i] = positions[i].WeightPct
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

	if n > len(weights) {
		n = len(weights)
	}
	var sum float64
	for _, w := range weights[:n] {
		sum += w
	}
	return sum
}

// compositeLevel folds beta, sector concentration and top-5 weight into
// one of five levels. Each component contributes points; the band cuts
// are placeholders, not calibrated values.
func compositeLevel(beta, index, top5 float64) string {
	score := 0

	switch {
	case beta >= 1.4:
		score += 2
	case beta >= 1.1:
		score++
	}

	switch {
	case index >= HHIModerateThreshold:
		score += 2
	case index >= HHILowThreshold:
		score++
	}

	switch {
	case top5 >= 90:
		score += 2
	case top5 >= 70:
		score++
	}

	levels := []string{LevelVeryLow, LevelLow, LevelModerate, LevelHigh, LevelVeryHigh}
	if score >= len(levels) {
		score = len(levels) - 1
	}
	return levels[score]
}
