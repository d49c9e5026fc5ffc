// Command backtest runs an event-driven backtest or parameter optimization
// against historical OHLCV bar data described by a YAML configuration file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlas-desktop/backtest-core/internal/analytics"
	"github.com/atlas-desktop/backtest-core/internal/backtester"
	"github.com/atlas-desktop/backtest-core/internal/config"
	"github.com/atlas-desktop/backtest-core/internal/optimization"
	"github.com/atlas-desktop/backtest-core/internal/strategy"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "./backtest.yaml", "Path to the YAML configuration file")
	mode := flag.String("mode", "run", "run | optimize")
	split := flag.String("split", "train", "train | test (mode=run only)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := strategy.NewRegistry()

	coordinator, err := backtester.New(logger, cfg, registry)
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}

	switch *mode {
	case "run":
		runOnce(logger, coordinator, cfg.OutputDir, *split)
	case "optimize":
		runOptimize(logger, coordinator, cfg)
	default:
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}
}

func runOnce(logger *zap.Logger, coordinator *backtester.Coordinator, outputDir, split string) {
	results, err := coordinator.Run(split)
	if err != nil {
		logger.Error("backtest aborted", zap.Error(err))
		if results == nil {
			os.Exit(1)
		}
	}

	metrics := analytics.Calculate(results.Trades, results.EquityCurve, coordinator.InitialCapital())
	riskMetrics := analytics.CalculateRisk(results.EquityCurve)

	logger.Info("backtest complete",
		zap.Int("trades", len(results.Trades)),
		zap.Int("dropped_rows", results.DroppedRows),
		zap.String("total_return", metrics.TotalReturn.String()),
		zap.String("sharpe_ratio", metrics.SharpeRatio.String()),
		zap.String("max_drawdown", metrics.MaxDrawdown.String()),
	)

	if err := writeJSON(outputDir, "equity_curve.json", results.EquityCurve); err != nil {
		logger.Error("failed to write equity curve", zap.Error(err))
	}
	if err := writeJSON(outputDir, "trades.json", results.Trades); err != nil {
		logger.Error("failed to write trades", zap.Error(err))
	}
	if err := writeJSON(outputDir, "metrics.json", struct {
		Performance analytics.Metrics
		Risk        analytics.RiskMetrics
	}{metrics, riskMetrics}); err != nil {
		logger.Error("failed to write metrics", zap.Error(err))
	}

	if results.Err != nil {
		os.Exit(1)
	}
}

func runOptimize(logger *zap.Logger, coordinator *backtester.Coordinator, cfg types.Config) {
	opt := optimization.New(logger, coordinator, cfg.Optimization)
	result, err := opt.Run()
	if err != nil {
		logger.Fatal("optimization failed", zap.Error(err))
	}

	logger.Info("optimization complete",
		zap.String("method", string(result.Method)),
		zap.Int("trials", len(result.Trials)),
		zap.Float64("best_score", result.Best.Score),
		zap.Duration("duration", result.Duration),
	)
	if result.WalkForward != nil {
		logger.Info("walk-forward fold",
			zap.Float64("in_sample_score", result.WalkForward.InSampleBest.Score),
			zap.Float64("out_of_sample_score", result.WalkForward.OutOfSampleTrial.Score),
			zap.Float64("degradation", result.WalkForward.Degradation),
		)
	}

	if err := writeJSON(cfg.OutputDir, "optimization.json", result); err != nil {
		logger.Error("failed to write optimization result", zap.Error(err))
	}
}

func writeJSON(dir, name string, v any) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
