package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q): %v", s, err)
	}
	return d
}

const minimalConfig = `
backtest:
  initial_capital: "100000"
  symbols: ["AAA"]
data:
  sources:
    - symbol: AAA
      file: ./aaa.csv
strategy:
  name: ma_crossover
  params:
    fast_period: 10
    slow_period: 30
broker:
  commission_rate: "0.001"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "backtest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.TrainTestSplit.Method != types.SplitMethodRatio {
		t.Fatalf("expected default split method ratio, got %q", cfg.Data.TrainTestSplit.Method)
	}
	if cfg.Data.TrainTestSplit.TrainRatio != 0.7 {
		t.Fatalf("expected default train ratio 0.7, got %v", cfg.Data.TrainTestSplit.TrainRatio)
	}
	if cfg.Risk.PositionSizingMethod != types.SizingFixed {
		t.Fatalf("expected default sizing method fixed, got %q", cfg.Risk.PositionSizingMethod)
	}
	if cfg.Broker.SlippageType != types.SlippagePercentage {
		t.Fatalf("expected default slippage type percentage, got %q", cfg.Broker.SlippageType)
	}
	if cfg.OutputDir != "./results" {
		t.Fatalf("expected default output dir ./results, got %q", cfg.OutputDir)
	}
}

func TestLoadDecodesDecimalFields(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "100000"
	if cfg.Backtest.InitialCapital.String() != want {
		t.Fatalf("expected initial capital %s, got %s", want, cfg.Backtest.InitialCapital.String())
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	err := Validate(types.Config{})
	if err == nil {
		t.Fatal("expected validation to fail on a zero-value config")
	}
	cerr, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("expected a *ConfigurationError, got %T", err)
	}
	if len(cerr.Problems) < 4 {
		t.Fatalf("expected multiple problems collected in one pass, got %d: %v", len(cerr.Problems), cerr.Problems)
	}
}

func TestValidatePassesWellFormedConfig(t *testing.T) {
	cfg := types.Config{}
	cfg.Backtest.InitialCapital = mustDecimal(t, "100000")
	cfg.Backtest.Symbols = []string{"AAA"}
	cfg.Data.Sources = []types.SourceConfig{{Symbol: "AAA", File: "a.csv"}}
	cfg.Data.TrainTestSplit.Method = types.SplitMethodRatio
	cfg.Strategy.Name = "ma_crossover"
	cfg.Risk.PositionSizingMethod = types.SizingFixed
	cfg.Broker.SlippageType = types.SlippagePercentage
	cfg.Broker.CommissionType = types.CommissionPercentage

	if err := Validate(cfg); err != nil {
		t.Fatalf("expected a well-formed config to pass validation, got %v", err)
	}
}
