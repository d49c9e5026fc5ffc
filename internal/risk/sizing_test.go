package risk

import (
	"testing"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

func TestFixedSizingIgnoresEquityAndPrice(t *testing.T) {
	p, err := NewSizingPolicy(types.RiskSection{PositionSizingMethod: types.SizingFixed, PositionSize: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("NewSizingPolicy: %v", err)
	}
	got := p.Size(decimal.NewFromInt(50000), decimal.NewFromInt(25))
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected fixed size 100 regardless of inputs, got %s", got)
	}
}

func TestPercentEquitySizingFloorsToWholeShares(t *testing.T) {
	p, err := NewSizingPolicy(types.RiskSection{PositionSizingMethod: types.SizingPercentEquity, MaxPositionPct: decimal.NewFromFloat(0.1)})
	if err != nil {
		t.Fatalf("NewSizingPolicy: %v", err)
	}
	got := p.Size(decimal.NewFromInt(10000), decimal.NewFromInt(33))
	// 10000 * 0.1 / 33 = 30.30... -> floors to 30
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 30 shares, got %s", got)
	}
}

func TestPercentRiskSizingUsesStopDistance(t *testing.T) {
	p, err := NewSizingPolicy(types.RiskSection{
		PositionSizingMethod: types.SizingPercentRisk,
		RiskPct:              decimal.NewFromFloat(0.01),
		StopPct:              decimal.NewFromFloat(0.05),
	})
	if err != nil {
		t.Fatalf("NewSizingPolicy: %v", err)
	}
	// risking 1% of 100000 = 1000, stop distance = 50*0.05 = 2.5 -> 1000/2.5 = 400
	got := p.Size(decimal.NewFromInt(100000), decimal.NewFromInt(50))
	if !got.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected 400 shares, got %s", got)
	}
}

func TestPercentRiskSizingZeroStopReturnsZero(t *testing.T) {
	p, err := NewSizingPolicy(types.RiskSection{
		PositionSizingMethod: types.SizingPercentRisk,
		RiskPct:              decimal.NewFromFloat(0.01),
		StopPct:              decimal.Zero,
	})
	if err != nil {
		t.Fatalf("NewSizingPolicy: %v", err)
	}
	got := p.Size(decimal.NewFromInt(100000), decimal.NewFromInt(50))
	if !got.IsZero() {
		t.Fatalf("expected zero size when stop distance is zero, got %s", got)
	}
}

func TestNewSizingPolicyUnknownMethodErrors(t *testing.T) {
	if _, err := NewSizingPolicy(types.RiskSection{PositionSizingMethod: "bogus"}); err == nil {
		t.Fatal("expected an error for an unrecognized sizing method")
	}
}
