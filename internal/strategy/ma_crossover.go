package strategy

import (
	"fmt"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/atlas-desktop/backtest-core/pkg/utils"
)

// MACrossover is the one reference Strategy implementation shipped with the
// core: it emits a long intent while the fast moving average sits above the
// slow one and a short intent while it sits below, sustaining that
// direction on every bar per the contract's sustained-signal policy. On a
// tie it holds the last non-neutral direction, since two adjacent bars with
// an identical average is not itself a direction change; a tie before any
// direction has been set emits neutral.
type MACrossover struct {
	fastPeriod int
	slowPeriod int

	fast *utils.SMA
	slow *utils.SMA
	last types.Direction
}

// NewMACrossover builds a crossover strategy with default fast=10, slow=30
// periods; call Configure to override.
func NewMACrossover() *MACrossover {
	s := &MACrossover{fastPeriod: 10, slowPeriod: 30}
	s.Reset()
	return s
}

func (s *MACrossover) Name() string { return "ma_crossover" }

// Configure accepts "fast_period" and "slow_period" (both int-like).
func (s *MACrossover) Configure(params map[string]any) error {
	if v, ok := params["fast_period"]; ok {
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("ma_crossover: fast_period: %w", err)
		}
		s.fastPeriod = n
	}
	if v, ok := params["slow_period"]; ok {
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("ma_crossover: slow_period: %w", err)
		}
		s.slowPeriod = n
	}
	if s.fastPeriod <= 0 || s.slowPeriod <= 0 || s.fastPeriod >= s.slowPeriod {
		return fmt.Errorf("ma_crossover: fast_period must be positive and less than slow_period")
	}
	s.Reset()
	return nil
}

func (s *MACrossover) OnBar(bar types.Bar) (*types.Signal, error) {
	fast := s.fast.Add(bar.Close)
	slow := s.slow.Add(bar.Close)
	if !s.fast.Ready() || !s.slow.Ready() {
		return nil, nil
	}

	dir := s.last
	switch {
	case fast.GreaterThan(slow):
		dir = types.DirectionLong
	case fast.LessThan(slow):
		dir = types.DirectionShort
	}
	s.last = dir

	return &types.Signal{
		Symbol:     bar.Symbol,
		Direction:  dir,
		Price:      bar.Close,
		Timestamp:  bar.Timestamp,
		StrategyID: s.Name(),
	}, nil
}

// Reset restores freshly-constructed indicator state.
func (s *MACrossover) Reset() {
	s.fast = utils.NewSMA(s.fastPeriod)
	s.slow = utils.NewSMA(s.slowPeriod)
	s.last = types.DirectionNeutral
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", v)
	}
}
