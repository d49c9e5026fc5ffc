package analytics

import (
	"math"
	"math/rand"
	"sort"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// ruinThreshold is the fractional equity drop a simulated path must fall to
// before it is counted toward the probability of ruin.
const ruinThreshold = 0.5

// MonteCarloResult summarizes a bootstrap resampling of a trade ledger's
// realized P&L sequence.
type MonteCarloResult struct {
	Iterations      int
	MedianReturn    decimal.Decimal
	P5Return        decimal.Decimal
	P95Return       decimal.Decimal
	ProbabilityRuin decimal.Decimal
	MaxDrawdownP95  decimal.Decimal
}

// MonteCarlo reorders a completed run's trades to estimate how sensitive
// its outcome is to trade sequencing, rather than to the strategy's edge
// itself.
type MonteCarlo struct {
	rng *rand.Rand
}

// NewMonteCarlo constructs a MonteCarlo simulator seeded by seed so repeated
// runs against the same trade ledger are reproducible.
func NewMonteCarlo(seed int64) *MonteCarlo {
	return &MonteCarlo{rng: rand.New(rand.NewSource(seed))}
}

// Run resamples trades' realized P&L, expressed as a fraction of
// startingEquity, over iterations independent shuffles and reports the
// resulting distribution of path outcomes.
func (mc *MonteCarlo) Run(trades []types.Trade, startingEquity decimal.Decimal, iterations int) MonteCarloResult {
	if len(trades) == 0 || startingEquity.IsZero() {
		return MonteCarloResult{}
	}
	if iterations <= 0 {
		iterations = 1000
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		r, _ := t.RealizedPnL.Div(startingEquity).Float64()
		returns[i] = r
	}

	finalReturns := make([]float64, iterations)
	maxDrawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffle(returns)
		total, maxDD, ruined := simulatePath(shuffled)
		finalReturns[i] = total
		maxDrawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(finalReturns)
	sort.Float64s(maxDrawdowns)

	return MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(percentile(finalReturns, 50)),
		P5Return:        decimal.NewFromFloat(percentile(finalReturns, 5)),
		P95Return:       decimal.NewFromFloat(percentile(finalReturns, 95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(iterations)),
		MaxDrawdownP95:  decimal.NewFromFloat(percentile(maxDrawdowns, 95)),
	}
}

func (mc *MonteCarlo) shuffle(returns []float64) []float64 {
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)
	mc.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled
}

func simulatePath(returns []float64) (totalReturn, maxDD float64, ruined bool) {
	equity := 1.0
	peak := equity
	for _, r := range returns {
		equity += r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= ruinThreshold {
			return equity - 1.0, maxDD, true
		}
	}
	return equity - 1.0, maxDD, false
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
