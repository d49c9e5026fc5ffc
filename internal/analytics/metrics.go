// Package analytics computes performance and risk statistics from a
// completed run's equity curve and trade ledger.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// barsPerYear assumes daily bars; callers working at other timeframes
// should rescale outside this package.
const barsPerYear = 252

// Metrics is the full set of performance statistics computed from one run.
type Metrics struct {
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          decimal.Decimal
	AvgWin           decimal.Decimal
	AvgLoss          decimal.Decimal
	LargestWin       decimal.Decimal
	LargestLoss      decimal.Decimal
	ProfitFactor     decimal.Decimal
	Expectancy       decimal.Decimal
	TotalReturn      decimal.Decimal
	RealizedReturn   decimal.Decimal
	AnnualizedReturn decimal.Decimal
	SharpeRatio      decimal.Decimal
	SortinoRatio     decimal.Decimal
	MaxDrawdown      decimal.Decimal
	MaxDrawdownAt    time.Time
	CalmarRatio      decimal.Decimal
	CombinedScore    decimal.Decimal
}

// Calculate computes Metrics from a run's trades, equity curve, and
// initial capital. An empty equity curve returns the zero value.
func Calculate(trades []types.Trade, equityCurve []types.EquityCurvePoint, initialCapital decimal.Decimal) Metrics {
	var m Metrics
	if len(equityCurve) == 0 {
		return m
	}

	var totalWins, totalLosses, realizedPnL decimal.Decimal
	for _, t := range trades {
		realizedPnL = realizedPnL.Add(t.RealizedPnL)
		switch {
		case t.RealizedPnL.GreaterThan(decimal.Zero):
			m.WinningTrades++
			totalWins = totalWins.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(m.LargestWin) {
				m.LargestWin = t.RealizedPnL
			}
		case t.RealizedPnL.LessThan(decimal.Zero):
			m.LosingTrades++
			totalLosses = totalLosses.Add(t.RealizedPnL.Abs())
			if t.RealizedPnL.Abs().GreaterThan(m.LargestLoss) {
				m.LargestLoss = t.RealizedPnL.Abs()
			}
		}
	}
	m.TotalTrades = len(trades)

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = totalWins.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	if !totalLosses.IsZero() {
		m.ProfitFactor = totalWins.Div(totalLosses)
	}
	if m.TotalTrades > 0 {
		lossPct := decimal.NewFromInt(1).Sub(m.WinRate)
		m.Expectancy = m.WinRate.Mul(m.AvgWin).Sub(lossPct.Mul(m.AvgLoss))
	}

	if !initialCapital.IsZero() {
		finalEquity := equityCurve[len(equityCurve)-1].TotalEquity
		m.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)
		m.RealizedReturn = realizedPnL.Div(initialCapital)
	}

	returns := periodReturns(equityCurve)
	if len(returns) > 0 {
		avg := mean(returns)
		m.AnnualizedReturn = decimal.NewFromFloat(avg * barsPerYear)
	}
	if len(returns) > 1 {
		avg := mean(returns)
		sd := stdDev(returns)
		if sd > 0 {
			m.SharpeRatio = decimal.NewFromFloat(avg / sd * math.Sqrt(barsPerYear))
		}
		dd := downsideDeviation(returns)
		if dd > 0 {
			m.SortinoRatio = decimal.NewFromFloat(avg / dd * math.Sqrt(barsPerYear))
		}
	}

	m.MaxDrawdown, m.MaxDrawdownAt = maxDrawdown(equityCurve)
	if !m.MaxDrawdown.IsZero() {
		m.CalmarRatio = m.AnnualizedReturn.Div(m.MaxDrawdown)
	}

	m.CombinedScore = combinedScore(m)
	return m
}

// combinedScore is the single scalar behind the combined_score objective:
// Sharpe divided by (1 + max drawdown), or zero when there are no trades.
func combinedScore(m Metrics) decimal.Decimal {
	if m.TotalTrades == 0 {
		return decimal.Zero
	}
	penalty := decimal.NewFromInt(1).Add(m.MaxDrawdown)
	if penalty.IsZero() {
		return m.SharpeRatio
	}
	return m.SharpeRatio.Div(penalty)
}

// RiskMetrics is the distributional risk summary computed from the same
// per-bar return series Metrics derives from the equity curve.
type RiskMetrics struct {
	DailyVolatility  decimal.Decimal
	AnnualVolatility decimal.Decimal
	VaR95            decimal.Decimal
	VaR99            decimal.Decimal
	CVaR95           decimal.Decimal
}

// CalculateRisk computes RiskMetrics from an equity curve.
func CalculateRisk(equityCurve []types.EquityCurvePoint) RiskMetrics {
	var rm RiskMetrics
	returns := periodReturns(equityCurve)
	if len(returns) == 0 {
		return rm
	}

	vol := stdDev(returns)
	rm.DailyVolatility = decimal.NewFromFloat(vol)
	rm.AnnualVolatility = decimal.NewFromFloat(vol * math.Sqrt(barsPerYear))

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx95 := int(float64(len(sorted)) * 0.05)
	if idx95 >= 0 && idx95 < len(sorted) {
		rm.VaR95 = decimal.NewFromFloat(-sorted[idx95])
	}
	idx99 := int(float64(len(sorted)) * 0.01)
	if idx99 >= 0 && idx99 < len(sorted) {
		rm.VaR99 = decimal.NewFromFloat(-sorted[idx99])
	}
	if idx95 > 0 {
		var sum float64
		for i := 0; i < idx95; i++ {
			sum += sorted[i]
		}
		rm.CVaR95 = decimal.NewFromFloat(-sum / float64(idx95))
	}
	return rm
}

func periodReturns(equityCurve []types.EquityCurvePoint) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].TotalEquity
		curr := equityCurve[i].TotalEquity
		if prev.IsZero() {
			continue
		}
		r, _ := curr.Sub(prev).Div(prev).Float64()
		out = append(out, r)
	}
	return out
}

func maxDrawdown(equityCurve []types.EquityCurvePoint) (decimal.Decimal, time.Time) {
	if len(equityCurve) == 0 {
		return decimal.Zero, time.Time{}
	}
	var maxDD decimal.Decimal
	var at time.Time
	peak := equityCurve[0].TotalEquity
	for _, point := range equityCurve {
		if point.TotalEquity.GreaterThan(peak) {
			peak = point.TotalEquity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(point.TotalEquity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			at = point.Timestamp
		}
	}
	return maxDD, at
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	var sumSquares float64
	for _, v := range values {
		d := v - avg
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	return stdDev(negative)
}
