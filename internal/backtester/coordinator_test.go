package backtester

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/backtest-core/internal/strategy"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// onceLongStrategy emits a single long signal on the second bar it sees and
// stays silent afterward, giving tests a deterministic one-trade scenario.
type onceLongStrategy struct {
	seen int
}

func (s *onceLongStrategy) Name() string                  { return "once_long" }
func (s *onceLongStrategy) Configure(map[string]any) error { return nil }
func (s *onceLongStrategy) Reset()                        { s.seen = 0 }
func (s *onceLongStrategy) OnBar(bar types.Bar) (*types.Signal, error) {
	s.seen++
	if s.seen != 2 {
		return nil, nil
	}
	return &types.Signal{Symbol: bar.Symbol, Direction: types.DirectionLong, Price: bar.Close, Timestamp: bar.Timestamp}, nil
}

func writeFixtureCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func testConfig(t *testing.T) types.Config {
	dir := t.TempDir()
	body := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01T00:00:00Z,100,101,99,100,1000\n" +
		"2024-01-02T00:00:00Z,100,102,99,101,1000\n" +
		"2024-01-03T00:00:00Z,101,103,100,102,1000\n" +
		"2024-01-04T00:00:00Z,102,104,101,103,1000\n" +
		"2024-01-05T00:00:00Z,103,105,102,104,1000\n"
	path := writeFixtureCSV(t, dir, "AAA.csv", body)

	var cfg types.Config
	cfg.Backtest.InitialCapital = decimal.NewFromInt(10000)
	cfg.Backtest.Symbols = []string{"AAA"}
	cfg.Data.Sources = []types.SourceConfig{{Symbol: "AAA", File: path}}
	cfg.Data.TrainTestSplit = types.SplitConfig{Method: types.SplitMethodRatio, TrainRatio: 1.0}
	cfg.Strategy.Name = "once_long"
	cfg.Risk.PositionSizingMethod = types.SizingFixed
	cfg.Risk.PositionSize = decimal.NewFromInt(10)
	cfg.Risk.EnforceSinglePosition = true
	cfg.Broker.SlippageType = types.SlippagePercentage
	cfg.Broker.CommissionType = types.CommissionPercentage
	return cfg
}

func newTestCoordinator(t *testing.T) *Coordinator {
	cfg := testConfig(t)
	registry := strategy.NewRegistry()
	registry.Register("once_long", func() strategy.Strategy { return &onceLongStrategy{} })

	c, err := New(zap.NewNop(), cfg, registry)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRunProducesATradeAndClosesAtBacktestEnd(t *testing.T) {
	c := newTestCoordinator(t)
	results, err := c.Run("train")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.Err != nil {
		t.Fatalf("unexpected invariant violation: %v", results.Err)
	}
	if len(results.Trades) != 1 {
		t.Fatalf("expected one closing trade from the synthetic backtest-end close, got %d", len(results.Trades))
	}
	if pos, ok := results.FinalPositions["AAA"]; !ok || !pos.Quantity.IsZero() {
		t.Fatalf("expected the position to be flat after backtest end, got %+v", pos)
	}
	if len(results.EquityCurve) == 0 {
		t.Fatal("expected a non-empty equity curve")
	}
}

func TestRunIsReproducibleAcrossResets(t *testing.T) {
	c := newTestCoordinator(t)
	first, err := c.Run("train")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	c.Reset()
	second, err := c.Run("train")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.FinalEquity.TotalEquity.String() != second.FinalEquity.TotalEquity.String() {
		t.Fatalf("expected identical final equity across resets, got %s and %s",
			first.FinalEquity.TotalEquity, second.FinalEquity.TotalEquity)
	}
	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("expected the same number of trades across resets, got %d and %d", len(first.Trades), len(second.Trades))
	}
}

func TestConfigureStrategyAppliesBeforeNextRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Name = "ma_crossover"
	registry := strategy.NewRegistry()

	c, err := New(zap.NewNop(), cfg, registry)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.ConfigureStrategy(map[string]any{"fast_period": 2, "slow_period": 3}); err != nil {
		t.Fatalf("ConfigureStrategy: %v", err)
	}
	if _, err := c.Run("train"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestInitialCapitalReturnsConfiguredValue(t *testing.T) {
	c := newTestCoordinator(t)
	if !c.InitialCapital().Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected initial capital 10000, got %s", c.InitialCapital())
	}
}
