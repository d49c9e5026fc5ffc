// Package backtester wires the event bus, data handler, strategy, risk
// manager, order manager, broker, and portfolio into a single run and
// reports the aggregated results.
package backtester

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/analytics"
	"github.com/atlas-desktop/backtest-core/internal/data"
	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/internal/execution"
	"github.com/atlas-desktop/backtest-core/internal/portfolio"
	"github.com/atlas-desktop/backtest-core/internal/risk"
	"github.com/atlas-desktop/backtest-core/internal/strategy"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler priorities. The bus dispatches in descending priority order, so
// higher values run first; the data handler's own Bar events are not
// dispatched through priorities since DataHandler.Run drives the loop
// directly. These values only order the reactions each component has to
// that stream.
const (
	priorityStrategy = 50
	priorityRisk     = 40
	priorityOrders   = 30
	priorityBroker   = 20
	priorityPortfolio = 10
)

// strategyAdapter bridges the pure Strategy contract (OnBar returns a
// signal directly, no bus access) to the event bus: it listens for Bar
// events and emits a SignalEvent for whatever the strategy returns.
type strategyAdapter struct {
	strategyID string
	strategy   strategy.Strategy
	logger     *zap.Logger
}

func (a *strategyAdapter) attach(bus *events.Bus, priority int) {
	bus.Register(events.KindBar, priority, func(e events.Event) {
		be, ok := e.(*events.BarEvent)
		if !ok {
			return
		}
		sig, err := a.strategy.OnBar(be.Bar)
		if err != nil {
			a.logger.Error("strategy error", zap.Error(err), zap.String("strategy", a.strategyID))
			return
		}
		if sig == nil {
			return
		}
		sig.StrategyID = a.strategyID
		bus.Emit(&events.SignalEvent{Signal: *sig})
	})
}

// Results is everything a completed run produces.
type Results struct {
	EquityCurve    []types.EquityCurvePoint
	Trades         []types.Trade
	Orders         []types.Order
	FinalPositions map[string]types.Position
	FinalEquity    types.EquityCurvePoint
	DroppedRows    int
	Statistics     analytics.Metrics
	Err            error
}

// Coordinator owns one full set of wired components for one configuration
// and can run it repeatedly (e.g. once per optimizer trial) via Reset.
type Coordinator struct {
	logger *zap.Logger
	cfg    types.Config

	bus        *events.Bus
	dataHandler *data.Handler
	strat      *strategyAdapter
	riskMgr    *risk.Manager
	orderMgr   *execution.OrderManager
	broker     *execution.Broker
	book       *portfolio.Portfolio
}

// New constructs a Coordinator from cfg using registry to build the
// configured strategy (already Configure'd with cfg.Strategy.Params).
func New(logger *zap.Logger, cfg types.Config, registry *strategy.Registry) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	strat, err := registry.Create(cfg.Strategy.Name)
	if err != nil {
		return nil, fmt.Errorf("backtester: %w", err)
	}
	if err := strat.Configure(cfg.Strategy.Params); err != nil {
		return nil, fmt.Errorf("backtester: configuring strategy %q: %w", cfg.Strategy.Name, err)
	}

	dh := data.New(logger)
	if err := dh.Load(cfg.Data.Sources); err != nil {
		return nil, fmt.Errorf("backtester: %w", err)
	}
	if err := dh.SetupSplit(cfg.Data.TrainTestSplit); err != nil {
		return nil, fmt.Errorf("backtester: %w", err)
	}

	sizing, err := risk.NewSizingPolicy(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("backtester: %w", err)
	}

	book := portfolio.New(logger, cfg.Backtest.InitialCapital)
	riskMgr := risk.New(logger, book, sizing, cfg.Risk.MaxPositions, cfg.Risk.EnforceSinglePosition)
	orderMgr := execution.New(logger)
	broker := execution.NewBroker(logger, cfg.Broker, dh)

	c := &Coordinator{
		logger:      logger,
		cfg:         cfg,
		bus:         events.New(logger),
		dataHandler: dh,
		strat:       &strategyAdapter{strategyID: cfg.Strategy.Name, strategy: strat, logger: logger},
		riskMgr:     riskMgr,
		orderMgr:    orderMgr,
		broker:      broker,
		book:        book,
	}
	c.wire()
	return c, nil
}

func (c *Coordinator) wire() {
	c.strat.attach(c.bus, priorityStrategy)
	c.riskMgr.Attach(c.bus, priorityRisk)
	c.orderMgr.Attach(c.bus, priorityOrders)
	c.broker.Attach(c.bus, priorityBroker)
	c.book.Attach(c.bus, priorityPortfolio)
}

// Run activates split ("train" or "test") and replays it to completion,
// then emits BacktestEnd. A portfolio invariant violation does not stop the
// replay; it is returned as the error (and in Results.Err) once the replay
// and the backtest-end closes are done.
func (c *Coordinator) Run(split string) (*Results, error) {
	if err := c.dataHandler.ActivateSplit(split); err != nil {
		return nil, fmt.Errorf("backtester: %w", err)
	}

	runErr := c.dataHandler.Run(c.bus)

	var lastAt time.Time
	curve := c.book.EquityCurve()
	if len(curve) > 0 {
		lastAt = curve[len(curve)-1].Timestamp
	}
	c.bus.Emit(&events.BacktestEndEvent{At: lastAt})

	results := &Results{
		EquityCurve:    c.book.EquityCurve(),
		Trades:         c.book.Trades(),
		Orders:         c.orderMgr.History("", 0),
		FinalPositions: c.book.Positions(),
		DroppedRows:    c.dataHandler.DroppedRows(),
		Err:            c.book.Err(),
	}
	if len(results.EquityCurve) > 0 {
		results.FinalEquity = results.EquityCurve[len(results.EquityCurve)-1]
	}
	results.Statistics = analytics.Calculate(results.Trades, results.EquityCurve, c.cfg.Backtest.InitialCapital)
	if runErr != nil {
		return results, runErr
	}
	if results.Err != nil {
		return results, results.Err
	}
	return results, nil
}

// Reset restores every wired component to its just-constructed state so the
// same Coordinator can be rerun deterministically, e.g. across optimizer
// trials or walk-forward windows.
func (c *Coordinator) Reset() {
	c.bus.Reset()
	c.dataHandler.Reset()
	c.strat.strategy.Reset()
	c.riskMgr.Reset()
	c.orderMgr.Reset()
	c.broker.Reset()
	c.book.Reset()
}

// Bus exposes the underlying event bus for introspection (stats, history)
// by tests and the optimizer.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// ConfigureStrategy reconfigures the wired strategy instance with a new
// parameter set without rebuilding the rest of the coordinator, so the
// optimizer can reuse one Coordinator across trials.
func (c *Coordinator) ConfigureStrategy(params map[string]any) error {
	if err := c.strat.strategy.Configure(params); err != nil {
		return fmt.Errorf("backtester: configuring strategy: %w", err)
	}
	return nil
}

// InitialCapital returns the configured starting capital, used by the
// optimizer and Monte Carlo validation to express returns as fractions of
// equity.
func (c *Coordinator) InitialCapital() decimal.Decimal { return c.cfg.Backtest.InitialCapital }
