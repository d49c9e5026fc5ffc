// Package config loads the backtesting core's configuration tree from a
// YAML file via viper, with environment variable overrides and validation
// that runs before any component is constructed.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load reads configuration from path, applying BACKTEST_-prefixed
// environment variable overrides, and validates the result.
func Load(path string) (types.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return types.Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.Config
	decodeOpt := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			decimalDecodeHook,
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		)
	}
	if err := v.Unmarshal(&cfg, decodeOpt); err != nil {
		return types.Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backtest.timeframe", "1d")
	v.SetDefault("data.train_test_split.method", "ratio")
	v.SetDefault("data.train_test_split.train_ratio", 0.7)
	v.SetDefault("risk.position_sizing_method", "fixed")
	v.SetDefault("risk.enforce_single_position", true)
	v.SetDefault("broker.slippage_type", "percentage")
	v.SetDefault("broker.commission_type", "percentage")
	v.SetDefault("broker.fill_delay_bars", 0)
	v.SetDefault("optimization.method", "grid")
	v.SetDefault("optimization.objective", "sharpe_ratio")
	v.SetDefault("output_dir", "./results")
}

// decimalDecodeHook lets viper populate decimal.Decimal fields from the
// plain numbers or strings a YAML document naturally contains.
func decimalDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return data, nil
	}
}

// Validate raises a ConfigurationError for anything Load cannot proceed
// with safely: an unknown strategy is caught later by the registry, but
// structural problems (no symbols, no data sources, an unrecognized
// enumerated setting) are caught here before any component is built.
func Validate(cfg types.Config) error {
	var problems []string

	if cfg.Backtest.InitialCapital.LessThanOrEqual(decimal.Zero) {
		problems = append(problems, "backtest.initial_capital must be positive")
	}
	if len(cfg.Backtest.Symbols) == 0 {
		problems = append(problems, "backtest.symbols must not be empty")
	}
	if len(cfg.Data.Sources) == 0 {
		problems = append(problems, "data.sources must not be empty")
	}
	if cfg.Strategy.Name == "" {
		problems = append(problems, "strategy.name must be set")
	}

	switch cfg.Data.TrainTestSplit.Method {
	case types.SplitMethodRatio, types.SplitMethodDate, types.SplitMethodFixed:
	default:
		problems = append(problems, fmt.Sprintf("data.train_test_split.method %q is not recognized", cfg.Data.TrainTestSplit.Method))
	}

	switch cfg.Risk.PositionSizingMethod {
	case types.SizingFixed, types.SizingPercentEquity, types.SizingPercentRisk:
	default:
		problems = append(problems, fmt.Sprintf("risk.position_sizing_method %q is not recognized", cfg.Risk.PositionSizingMethod))
	}

	switch cfg.Broker.SlippageType {
	case types.SlippagePercentage, types.SlippageFixed:
	default:
		problems = append(problems, fmt.Sprintf("broker.slippage_type %q is not recognized", cfg.Broker.SlippageType))
	}
	switch cfg.Broker.CommissionType {
	case types.CommissionPercentage, types.CommissionPerShare:
	default:
		problems = append(problems, fmt.Sprintf("broker.commission_type %q is not recognized", cfg.Broker.CommissionType))
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// ConfigurationError reports every structural problem found in one pass so
// a user fixes a config file in one round trip instead of one error at a
// time.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", strings.Join(e.Problems, "; "))
}
