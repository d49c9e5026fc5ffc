// Package data implements the historical bar replay component: CSV
// ingestion, deterministic timestamp-ordered replay across symbols, and
// train/test partitioning for the optimizer.
package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type splitRange struct {
	start, end int // [start, end) into the symbol's sorted bar slice
}

// Handler owns the full loaded bar history per symbol and replays an
// active train/test split in strict timestamp order, tie-broken by a
// stable lexicographic symbol order.
type Handler struct {
	logger *zap.Logger

	symbols []string
	bars    map[string][]types.Bar

	splitCfg    *types.SplitConfig
	trainRanges map[string]splitRange
	testRanges  map[string]splitRange

	activeRanges map[string]splitRange
	cursor       map[string]int // next unread index into bars[symbol], within the active range

	current     map[string]types.Bar
	droppedRows int
}

// New constructs an empty Handler.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:  logger,
		bars:    make(map[string][]types.Bar),
		current: make(map[string]types.Bar),
	}
}

// Load reads one CSV file per configured source. Missing required columns
// is a fatal configuration error raised before any row is read; malformed
// rows within the body are dropped and counted.
func (h *Handler) Load(sources []types.SourceConfig) error {
	for _, src := range sources {
		bars, dropped, err := loadCSV(src)
		if err != nil {
			return fmt.Errorf("data: loading %s: %w", src.Symbol, err)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		h.bars[src.Symbol] = bars
		h.droppedRows += dropped
		h.symbols = append(h.symbols, src.Symbol)
		if dropped > 0 {
			h.logger.Warn("dropped malformed rows", zap.String("symbol", src.Symbol), zap.Int("count", dropped))
		}
	}
	sort.Strings(h.symbols)
	return nil
}

// DroppedRows returns the number of body rows skipped for malformed data
// across every Load call.
func (h *Handler) DroppedRows() int { return h.droppedRows }

// SetupSplit computes per-symbol train and test index ranges for cfg. It
// does not activate either one; call ActivateSplit for that.
func (h *Handler) SetupSplit(cfg types.SplitConfig) error {
	train := make(map[string]splitRange, len(h.symbols))
	test := make(map[string]splitRange, len(h.symbols))

	for _, symbol := range h.symbols {
		bars := h.bars[symbol]
		n := len(bars)
		var tr, te splitRange

		switch cfg.Method {
		case types.SplitMethodRatio:
			cut := int(cfg.TrainRatio * float64(n))
			tr = splitRange{0, cut}
			te = splitRange{cut, n}
		case types.SplitMethodDate:
			tr = splitRange{lowerBound(bars, cfg.TrainStart), lowerBound(bars, cfg.TrainEnd)}
			te = splitRange{lowerBound(bars, cfg.TestStart), lowerBound(bars, cfg.TestEnd)}
		case types.SplitMethodFixed:
			trainEnd := clamp(cfg.TrainPeriods, 0, n)
			testEnd := clamp(cfg.TrainPeriods+cfg.TestPeriods, 0, n)
			tr = splitRange{0, trainEnd}
			te = splitRange{trainEnd, testEnd}
		default:
			return fmt.Errorf("data: unknown split method %q", cfg.Method)
		}
		train[symbol] = tr
		test[symbol] = te
	}

	h.splitCfg = &cfg
	h.trainRanges = train
	h.testRanges = test
	return nil
}

// ActivateSplit selects "train" or "test" as the active replay range and
// rewinds the read cursor. It fails if SetupSplit has not been called.
func (h *Handler) ActivateSplit(name string) error {
	if h.splitCfg == nil {
		return fmt.Errorf("data: no split configured")
	}
	switch name {
	case "train":
		h.activeRanges = h.trainRanges
	case "test":
		h.activeRanges = h.testRanges
	default:
		return fmt.Errorf("data: unknown split %q", name)
	}
	h.rewind()
	return nil
}

// rewind resets the read cursor to the start of the active ranges without
// touching loaded data, so Reset can be cheap and repeatable.
func (h *Handler) rewind() {
	h.cursor = make(map[string]int, len(h.symbols))
	for symbol, r := range h.activeRanges {
		h.cursor[symbol] = r.start
	}
	h.current = make(map[string]types.Bar)
}

// Reset rewinds the handler to the start of the currently active split.
func (h *Handler) Reset() {
	if h.activeRanges != nil {
		h.rewind()
	}
}

// Run replays the active split in non-decreasing timestamp order, emitting
// a BarEvent per bar and a MarkToMarketEvent after each batch of
// simultaneous bars across symbols.
func (h *Handler) Run(bus *events.Bus) error {
	if h.activeRanges == nil {
		return fmt.Errorf("data: no split activated")
	}
	for {
		symbol, bar, ok := h.nextBar()
		if !ok {
			return nil
		}
		batchSymbols := []string{symbol}
		batchBars := []types.Bar{bar}
		h.cursor[symbol]++

		// Gather every other symbol whose next bar shares this timestamp,
		// in stable lexicographic order, so ties are reproducible.
		for _, other := range h.symbols {
			if other == symbol {
				continue
			}
			ob, ok := h.peek(other)
			if ok && ob.Timestamp.Equal(bar.Timestamp) {
				batchSymbols = append(batchSymbols, other)
				batchBars = append(batchBars, ob)
				h.cursor[other]++
			}
		}

		for i, s := range batchSymbols {
			b := batchBars[i]
			h.current[s] = b
			bus.Emit(&events.BarEvent{Bar: b})
		}

		prices := make(map[string]types.Bar, len(h.current))
		for k, v := range h.current {
			prices[k] = v
		}
		bus.Emit(&events.MarkToMarketEvent{At: bar.Timestamp, Prices: prices})
	}
}

// nextBar returns the chronologically-next unread bar across all symbols,
// tie-broken by symbol name, without advancing any cursor except implicitly
// identifying which one the caller should advance.
func (h *Handler) nextBar() (string, types.Bar, bool) {
	var bestSymbol string
	var best types.Bar
	found := false
	for _, symbol := range h.symbols {
		bar, ok := h.peek(symbol)
		if !ok {
			continue
		}
		if !found || bar.Timestamp.Before(best.Timestamp) || (bar.Timestamp.Equal(best.Timestamp) && symbol < bestSymbol) {
			bestSymbol = symbol
			best = bar
			found = true
		}
	}
	return bestSymbol, best, found
}

func (h *Handler) peek(symbol string) (types.Bar, bool) {
	r, ok := h.activeRanges[symbol]
	if !ok {
		return types.Bar{}, false
	}
	idx := h.cursor[symbol]
	if idx >= r.end {
		return types.Bar{}, false
	}
	return h.bars[symbol][idx], true
}

// CurrentBar returns the most recently replayed bar for symbol.
func (h *Handler) CurrentBar(symbol string) (types.Bar, bool) {
	b, ok := h.current[symbol]
	return b, ok
}

// CurrentPrice returns the close of the most recently replayed bar for
// symbol.
func (h *Handler) CurrentPrice(symbol string) (decimal.Decimal, bool) {
	b, ok := h.current[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return b.Close, true
}

// lowerBound returns the index of the first bar whose timestamp is not
// before t (i.e. the first bar satisfying timestamp >= t).
func lowerBound(bars []types.Bar, t time.Time) int {
	return sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(t)
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
