// Package utils provides small numeric and formatting helpers shared across
// the backtesting core.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with an optional prefix.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	id := hex.EncodeToString(b)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string { return GenerateID("ord") }

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string { return GenerateID("trd") }

// GenerateRunID generates a unique backtest run ID.
func GenerateRunID() string { return GenerateID("run") }

// FormatSymbol normalizes a trading symbol to upper-case with a single
// separator.
func FormatSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, "-", "/")
	symbol = strings.ReplaceAll(symbol, "_", "/")
	return symbol
}

// CalculateMean calculates the mean of decimal values.
func CalculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// CalculateStdDev calculates the sample standard deviation of decimal values.
func CalculateStdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	mean := CalculateMean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// CalculateReturns computes period-over-period returns from a price series.
func CalculateReturns(values []decimal.Decimal) []decimal.Decimal {
	if len(values) < 2 {
		return nil
	}
	returns := make([]decimal.Decimal, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1].IsZero() {
			returns[i-1] = decimal.Zero
			continue
		}
		returns[i-1] = values[i].Sub(values[i-1]).Div(values[i-1])
	}
	return returns
}

// CalculateSharpeRatio annualizes the mean excess return over its standard
// deviation, scaled by sqrt(periodsPerYear).
func CalculateSharpeRatio(returns []decimal.Decimal, riskFreeRate decimal.Decimal, periodsPerYear int) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}
	mean := CalculateMean(returns)
	stdDev := CalculateStdDev(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}
	annualization := decimal.NewFromFloat(math.Sqrt(float64(periodsPerYear)))
	excess := mean.Sub(riskFreeRate.Div(decimal.NewFromInt(int64(periodsPerYear))))
	return excess.Div(stdDev).Mul(annualization)
}

// CalculateMaxDrawdown returns the largest peak-to-trough decline across an
// equity series, expressed as a fraction of the peak.
func CalculateMaxDrawdown(equity []decimal.Decimal) decimal.Decimal {
	if len(equity) < 2 {
		return decimal.Zero
	}
	maxDD := decimal.Zero
	peak := equity[0]
	for _, v := range equity {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// CalculateWinRate returns the fraction of positive values in pnls.
func CalculateWinRate(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(pnls))))
}

// CalculateProfitFactor returns gross profit divided by gross loss.
func CalculateProfitFactor(pnls []decimal.Decimal) decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, pnl := range pnls {
		if pnl.GreaterThan(decimal.Zero) {
			grossProfit = grossProfit.Add(pnl)
		} else {
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}
	if grossLoss.IsZero() {
		return decimal.NewFromInt(100) // uncapped profit factor would be infinite
	}
	return grossProfit.Div(grossLoss)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal clamps value to [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// EMA computes an exponential moving average incrementally.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates an EMA calculator for the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: decimal.NewFromFloat(2.0 / float64(period+1)),
	}
}

// Add folds value into the average and returns the updated value.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++
	if e.count == 1 {
		e.current = value
		return e.current
	}
	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Ready reports whether at least `period` values have been added.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Current returns the most recent average.
func (e *EMA) Current() decimal.Decimal { return e.current }

// SMA computes a simple moving average over a trailing window.
type SMA struct {
	period int
	values []decimal.Decimal
	sum    decimal.Decimal
}

// NewSMA creates an SMA calculator for the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, values: make([]decimal.Decimal, 0, period)}
}

// Add folds value into the trailing window and returns the updated average.
func (s *SMA) Add(value decimal.Decimal) decimal.Decimal {
	s.values = append(s.values, value)
	s.sum = s.sum.Add(value)
	if len(s.values) > s.period {
		s.sum = s.sum.Sub(s.values[0])
		s.values = s.values[1:]
	}
	return s.Current()
}

// Ready reports whether the trailing window is full.
func (s *SMA) Ready() bool { return len(s.values) >= s.period }

// Current returns the average over the current window.
func (s *SMA) Current() decimal.Decimal {
	if len(s.values) == 0 {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(len(s.values))))
}
