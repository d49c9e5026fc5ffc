// Package types provides configuration types for the backtesting core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration tree, the shape internal/config loads
// from YAML (via viper) before any component is constructed.
type Config struct {
	Backtest     BacktestSection     `yaml:"backtest"`
	Data         DataSection         `yaml:"data"`
	Strategy     StrategySection     `yaml:"strategy"`
	Risk         RiskSection         `yaml:"risk"`
	Broker       BrokerSection       `yaml:"broker"`
	Optimization OptimizationSection `yaml:"optimization"`
	OutputDir    string              `yaml:"output_dir"`
}

// BacktestSection configures the run as a whole.
type BacktestSection struct {
	InitialCapital decimal.Decimal `yaml:"initial_capital"`
	Symbols        []string        `yaml:"symbols"`
	Timeframe      Timeframe       `yaml:"timeframe"`
}

// DataSection configures per-symbol CSV ingestion and the train/test split.
type DataSection struct {
	Sources        []SourceConfig   `yaml:"sources"`
	TrainTestSplit SplitConfig      `yaml:"train_test_split"`
}

// SourceConfig maps one symbol to a CSV file and its column layout.
type SourceConfig struct {
	Symbol        string   `yaml:"symbol"`
	File          string   `yaml:"file"`
	DateColumn    string   `yaml:"date_column"`
	DateFormat    string   `yaml:"date_format"`
	PriceColumns  map[string]string `yaml:"price_columns"` // logical name -> header name, e.g. "open" -> "Open"
}

// SplitMethod names one of the three recognized train/test partition modes.
type SplitMethod string

const (
	SplitMethodRatio SplitMethod = "ratio"
	SplitMethodDate  SplitMethod = "date"
	SplitMethodFixed SplitMethod = "fixed"
)

// SplitConfig parameterizes a train/test split; only the fields relevant to
// Method need to be set.
type SplitConfig struct {
	Method       SplitMethod `yaml:"method"`
	TrainRatio   float64     `yaml:"train_ratio"`
	TestRatio    float64     `yaml:"test_ratio"`
	TrainStart   time.Time   `yaml:"train_start"`
	TrainEnd     time.Time   `yaml:"train_end"`
	TestStart    time.Time   `yaml:"test_start"`
	TestEnd      time.Time   `yaml:"test_end"`
	TrainPeriods int         `yaml:"train_periods"`
	TestPeriods  int         `yaml:"test_periods"`
}

// StrategySection selects a registered strategy and its parameters.
type StrategySection struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// PositionSizingMethod names one of the three recognized sizing policies.
type PositionSizingMethod string

const (
	SizingFixed         PositionSizingMethod = "fixed"
	SizingPercentEquity PositionSizingMethod = "percent_equity"
	SizingPercentRisk   PositionSizingMethod = "percent_risk"
)

// RiskSection configures the signal-grouping risk manager.
type RiskSection struct {
	PositionSizingMethod  PositionSizingMethod `yaml:"position_sizing_method"`
	PositionSize          decimal.Decimal      `yaml:"position_size"`
	MaxPositionPct        decimal.Decimal      `yaml:"max_position_pct"`
	RiskPct               decimal.Decimal      `yaml:"risk_pct"`
	StopPct               decimal.Decimal      `yaml:"stop_pct"`
	MaxPositions          int                  `yaml:"max_positions"`
	EnforceSinglePosition bool                 `yaml:"enforce_single_position"`
}

// SlippageType names the broker's slippage model.
type SlippageType string

const (
	SlippagePercentage SlippageType = "percentage"
	SlippageFixed      SlippageType = "fixed"
)

// CommissionType names the broker's commission model.
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionPerShare   CommissionType = "per_share"
)

// BrokerSection configures the simulated broker's execution costs.
type BrokerSection struct {
	SlippageType   SlippageType   `yaml:"slippage_type"`
	SlippageAmount decimal.Decimal `yaml:"slippage_amount"`
	CommissionType CommissionType  `yaml:"commission_type"`
	CommissionRate decimal.Decimal `yaml:"commission_rate"`
	FillDelayBars  int             `yaml:"fill_delay_bars"`
	Seed           *int64          `yaml:"seed"`
}

// OptimizationMethod names one of the three recognized search strategies.
type OptimizationMethod string

const (
	OptimizationGrid        OptimizationMethod = "grid"
	OptimizationRandom      OptimizationMethod = "random"
	OptimizationWalkForward OptimizationMethod = "walk_forward"
)

// WindowType names whether the walk-forward window is rolling or expanding.
type WindowType string

const (
	WindowRolling   WindowType = "rolling"
	WindowExpanding WindowType = "expanding"
)

// OptimizationSection configures the parameter optimizer.
type OptimizationSection struct {
	Method         OptimizationMethod `yaml:"method"`
	Objective      string             `yaml:"objective"`
	NumTrials      int                `yaml:"num_trials"`
	ParameterSpace []ParameterSpec    `yaml:"parameter_space"`
	WindowSize     int                `yaml:"window_size"`
	StepSize       int                `yaml:"step_size"`
	WindowType     WindowType         `yaml:"window_type"`
	TrainWeight    float64            `yaml:"train_weight"`
	TestWeight     float64            `yaml:"test_weight"`
	Seed           int64              `yaml:"seed"`
}

// ParameterKind names one of the four recognized parameter descriptor shapes.
type ParameterKind string

const (
	ParameterInteger     ParameterKind = "integer"
	ParameterFloat       ParameterKind = "float"
	ParameterCategorical ParameterKind = "categorical"
	ParameterBoolean     ParameterKind = "boolean"
)

// ParameterSpec describes one dimension of the optimizer's search space.
type ParameterSpec struct {
	Name    string        `yaml:"name"`
	Kind    ParameterKind `yaml:"kind"`
	Min     float64       `yaml:"min"`
	Max     float64       `yaml:"max"`
	Step    float64       `yaml:"step"`
	Log     bool          `yaml:"log"`
	Choices []any         `yaml:"choices"`
}
