package risk

import (
	"fmt"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// SizingPolicy computes an opening order quantity from the account equity
// and the reference price of the signal that triggered it.
type SizingPolicy interface {
	Size(equity, price decimal.Decimal) decimal.Decimal
}

// NewSizingPolicy dispatches cfg.PositionSizingMethod to a concrete policy.
// An unrecognized method is a configuration error.
func NewSizingPolicy(cfg types.RiskSection) (SizingPolicy, error) {
	switch cfg.PositionSizingMethod {
	case types.SizingFixed:
		return fixedSizing{size: cfg.PositionSize}, nil
	case types.SizingPercentEquity:
		return percentEquitySizing{pct: cfg.MaxPositionPct}, nil
	case types.SizingPercentRisk:
		return percentRiskSizing{riskPct: cfg.RiskPct, stopPct: cfg.StopPct}, nil
	default:
		return nil, fmt.Errorf("risk: unknown position sizing method %q", cfg.PositionSizingMethod)
	}
}

type fixedSizing struct{ size decimal.Decimal }

func (s fixedSizing) Size(decimal.Decimal, decimal.Decimal) decimal.Decimal { return s.size }

type percentEquitySizing struct{ pct decimal.Decimal }

func (s percentEquitySizing) Size(equity, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(s.pct).Div(price).Floor()
}

type percentRiskSizing struct{ riskPct, stopPct decimal.Decimal }

func (s percentRiskSizing) Size(equity, price decimal.Decimal) decimal.Decimal {
	denom := price.Mul(s.stopPct)
	if denom.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(s.riskPct).Div(denom).Floor()
}
