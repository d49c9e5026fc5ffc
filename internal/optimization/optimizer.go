// Package optimization searches a strategy's parameter space for the
// configuration that performs best against a chosen objective, running
// every trial sequentially against one reused Coordinator so results are
// exactly reproducible given the same seed and data.
package optimization

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/analytics"
	"github.com/atlas-desktop/backtest-core/internal/backtester"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ParamSet is one point in the search space, keyed by ParameterSpec.Name.
type ParamSet map[string]any

// Trial is the outcome of evaluating one ParamSet.
type Trial struct {
	Params  ParamSet
	Score   float64
	Metrics analytics.Metrics
	Failed  bool
	Err     error
}

// Result is the outcome of a full optimization run.
type Result struct {
	Method     types.OptimizationMethod
	Best       Trial
	Trials     []Trial
	Duration   time.Duration
	WalkForward *WalkForwardResult
}

// WalkForwardResult additionally reports the in-sample optimum evaluated
// against the held-out test split.
type WalkForwardResult struct {
	InSampleBest    Trial
	OutOfSampleTrial Trial
	Degradation     float64
}

// Optimizer drives Grid, Random, and WalkForward search over one
// Coordinator, reconfiguring its strategy between trials via
// Coordinator.ConfigureStrategy and rewinding it with Reset.
type Optimizer struct {
	logger      *zap.Logger
	coordinator *backtester.Coordinator
	cfg         types.OptimizationSection
	rng         *rand.Rand
}

// New constructs an Optimizer over coordinator using cfg to select the
// search method and parameter space.
func New(logger *zap.Logger, coordinator *backtester.Coordinator, cfg types.OptimizationSection) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Optimizer{
		logger:      logger,
		coordinator: coordinator,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// validObjectives names the objective strings the optimizer recognizes;
// an unrecognized name is a configuration error rather than a silent
// fallback to combined_score.
var validObjectives = map[string]bool{
	"sharpe_ratio":   true,
	"sortino_ratio":  true,
	"calmar_ratio":   true,
	"total_return":   true,
	"profit_factor":  true,
	"max_drawdown":   true,
	"win_rate":       true,
	"expectancy":     true,
	"combined_score": true,
}

// Run dispatches to the configured search method.
func (o *Optimizer) Run() (*Result, error) {
	if !validObjectives[o.cfg.Objective] {
		return nil, fmt.Errorf("optimization: unknown objective %q", o.cfg.Objective)
	}

	start := time.Now()
	var result *Result
	var err error

	switch o.cfg.Method {
	case types.OptimizationGrid:
		result, err = o.runGrid()
	case types.OptimizationRandom:
		result, err = o.runRandom()
	case types.OptimizationWalkForward:
		result, err = o.runWalkForward()
	default:
		return nil, fmt.Errorf("optimization: unknown method %q", o.cfg.Method)
	}
	if err != nil {
		return nil, err
	}
	result.Method = o.cfg.Method
	result.Duration = time.Since(start)
	return result, nil
}

func (o *Optimizer) runGrid() (*Result, error) {
	combos := gridCombinations(o.cfg.ParameterSpace)
	o.logger.Info("starting grid search", zap.Int("combinations", len(combos)))
	trials := make([]Trial, 0, len(combos))
	best := Trial{Score: worstScore(o.cfg.Objective)}
	for _, params := range combos {
		trial := o.evaluate(params)
		trials = append(trials, trial)
		if !trial.Failed && better(o.cfg.Objective, trial.Score, best.Score) {
			best = trial
		}
	}
	return &Result{Best: best, Trials: trials}, nil
}

func (o *Optimizer) runRandom() (*Result, error) {
	n := o.cfg.NumTrials
	if n <= 0 {
		n = 50
	}
	o.logger.Info("starting random search", zap.Int("trials", n))
	trials := make([]Trial, 0, n)
	best := Trial{Score: worstScore(o.cfg.Objective)}
	for i := 0; i < n; i++ {
		params := o.randomParams()
		trial := o.evaluate(params)
		trials = append(trials, trial)
		if !trial.Failed && better(o.cfg.Objective, trial.Score, best.Score) {
			best = trial
		}
	}
	return &Result{Best: best, Trials: trials}, nil
}

// runWalkForward optimizes against the train split, then evaluates the
// in-sample optimum once against the held-out test split. The data handler
// activates exactly one train/test partition per configuration, so this is
// a single fold rather than the teacher's multi-fold rolling/expanding
// scan; the degradation between in-sample and out-of-sample score is still
// the quantity that matters for overfitting detection.
func (o *Optimizer) runWalkForward() (*Result, error) {
	inSample, err := o.runRandom()
	if err != nil {
		return nil, err
	}
	if inSample.Best.Failed {
		return &Result{Trials: inSample.Trials, WalkForward: &WalkForwardResult{InSampleBest: inSample.Best}}, nil
	}

	oos := o.evaluateOn("test", inSample.Best.Params)

	degradation := 0.0
	if inSample.Best.Score != 0 {
		degradation = (inSample.Best.Score - oos.Score) / math.Abs(inSample.Best.Score)
	}

	return &Result{
		Best:   inSample.Best,
		Trials: inSample.Trials,
		WalkForward: &WalkForwardResult{
			InSampleBest:     inSample.Best,
			OutOfSampleTrial: oos,
			Degradation:      degradation,
		},
	}, nil
}

func (o *Optimizer) evaluate(params ParamSet) Trial {
	return o.evaluateOn("train", params)
}

func (o *Optimizer) evaluateOn(split string, params ParamSet) Trial {
	o.coordinator.Reset()
	if err := o.coordinator.ConfigureStrategy(params); err != nil {
		return Trial{Params: params, Failed: true, Err: err, Score: worstScore(o.cfg.Objective)}
	}
	results, err := o.coordinator.Run(split)
	if err != nil {
		return Trial{Params: params, Failed: true, Err: err, Score: worstScore(o.cfg.Objective)}
	}
	metrics := analytics.Calculate(results.Trades, results.EquityCurve, o.coordinator.InitialCapital())
	return Trial{Params: params, Score: objectiveValue(o.cfg.Objective, metrics), Metrics: metrics}
}

// worstScore is returned for a failed trial so it always sorts behind every
// successful one regardless of objective sign convention.
func worstScore(objective string) float64 {
	if objective == "max_drawdown" {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// better reports whether score ranks ahead of current under objective:
// max_drawdown is minimized, every other objective is maximized.
func better(objective string, score, current float64) bool {
	if objective == "max_drawdown" {
		return score < current
	}
	return score > current
}

func objectiveValue(objective string, m analytics.Metrics) float64 {
	var d decimal.Decimal
	switch objective {
	case "sharpe_ratio":
		d = m.SharpeRatio
	case "sortino_ratio":
		d = m.SortinoRatio
	case "calmar_ratio":
		d = m.CalmarRatio
	case "total_return":
		d = m.TotalReturn
	case "profit_factor":
		d = m.ProfitFactor
	case "max_drawdown":
		d = m.MaxDrawdown
	case "win_rate":
		d = m.WinRate
	case "expectancy":
		d = m.Expectancy
	default: // combined_score, validated by Run before any trial executes
		d = m.CombinedScore
	}
	f, _ := d.Float64()
	return f
}

func (o *Optimizer) randomParams() ParamSet {
	params := make(ParamSet, len(o.cfg.ParameterSpace))
	for _, spec := range o.cfg.ParameterSpace {
		params[spec.Name] = o.randomValue(spec)
	}
	return params
}

func (o *Optimizer) randomValue(spec types.ParameterSpec) any {
	switch spec.Kind {
	case types.ParameterCategorical:
		if len(spec.Choices) == 0 {
			return nil
		}
		return spec.Choices[o.rng.Intn(len(spec.Choices))]
	case types.ParameterBoolean:
		return o.rng.Intn(2) == 1
	case types.ParameterInteger:
		return int(spec.Min + math.Floor(o.rng.Float64()*(spec.Max-spec.Min+1)))
	default: // float
		if spec.Log && spec.Min > 0 && spec.Max > 0 {
			logMin, logMax := math.Log(spec.Min), math.Log(spec.Max)
			return math.Exp(logMin + o.rng.Float64()*(logMax-logMin))
		}
		return spec.Min + o.rng.Float64()*(spec.Max-spec.Min)
	}
}

// gridCombinations expands every ParameterSpec into its grid values and
// returns their Cartesian product.
func gridCombinations(specs []types.ParameterSpec) []ParamSet {
	values := make([][]any, len(specs))
	for i, spec := range specs {
		values[i] = gridValues(spec)
	}
	return cartesianProduct(specs, values, 0, make(ParamSet))
}

func gridValues(spec types.ParameterSpec) []any {
	switch spec.Kind {
	case types.ParameterCategorical:
		return spec.Choices
	case types.ParameterBoolean:
		return []any{false, true}
	case types.ParameterInteger:
		step := spec.Step
		if step <= 0 {
			step = 1
		}
		var out []any
		for v := spec.Min; v <= spec.Max; v += step {
			out = append(out, int(v))
		}
		return out
	default: // float
		step := spec.Step
		if step <= 0 {
			step = (spec.Max - spec.Min) / 10
		}
		var out []any
		if step <= 0 {
			return []any{spec.Min}
		}
		for v := spec.Min; v <= spec.Max; v += step {
			out = append(out, v)
		}
		return out
	}
}

func cartesianProduct(specs []types.ParameterSpec, values [][]any, idx int, current ParamSet) []ParamSet {
	if idx == len(specs) {
		out := make(ParamSet, len(current))
		for k, v := range current {
			out[k] = v
		}
		return []ParamSet{out}
	}
	var combos []ParamSet
	for _, v := range values[idx] {
		current[specs[idx].Name] = v
		combos = append(combos, cartesianProduct(specs, values, idx+1, current)...)
	}
	return combos
}
