// Package events implements the backtest core's central routing system: a
// single-threaded, synchronous, depth-first event bus with per-kind
// deduplication and priority-ordered dispatch.
package events

import (
	"fmt"

	"go.uber.org/zap"
)

// Handler reacts to an Event. It must not block and must not spawn
// goroutines: dispatch is depth-first on the calling goroutine, and a
// handler is free to call Bus.Emit itself to continue the chain.
type Handler func(Event)

// Token identifies a registered handler so it can be unregistered later,
// replacing the weak-reference cleanup a garbage-collected runtime would
// rely on.
type Token uint64

type handlerEntry struct {
	token    Token
	priority int
	seq      int
	handler  Handler
}

// KindStats is the per-Kind bookkeeping the bus exposes for introspection.
type KindStats struct {
	Emitted int
	Dropped int
	Handled int
}

const historyCap = 256

// Bus is the event bus described above. The zero value is not usable; use
// New.
type Bus struct {
	logger   *zap.Logger
	handlers map[Kind][]handlerEntry
	nextSeq  int
	nextTok  Token

	seenKeys map[Kind]map[string]struct{}
	stats    map[Kind]*KindStats
	history  []Event
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Kind][]handlerEntry),
		seenKeys: make(map[Kind]map[string]struct{}),
		stats:    make(map[Kind]*KindStats),
	}
}

// Register installs handler for kind at priority (higher runs first). Ties
// are broken by registration order. The returned Token can be passed to
// Unregister.
func (b *Bus) Register(kind Kind, priority int, handler Handler) Token {
	b.nextTok++
	tok := b.nextTok
	b.nextSeq++
	entry := handlerEntry{token: tok, priority: priority, seq: b.nextSeq, handler: handler}

	list := append(b.handlers[kind], entry)
	sortHandlers(list)
	b.handlers[kind] = list
	return tok
}

// Unregister removes the handler identified by tok from every kind it was
// registered under.
func (b *Bus) Unregister(tok Token) {
	for kind, list := range b.handlers {
		out := list[:0]
		for _, e := range list {
			if e.token != tok {
				out = append(out, e)
			}
		}
		b.handlers[kind] = out
	}
}

// Emit dispatches event to every registered handler for its Kind, in
// descending priority order, stopping early if a handler sets the
// consumed flag. It returns the number of handlers invoked. If the event
// carries a dedup key already seen since the last Reset, emit is a no-op
// and returns 0.
func (b *Bus) Emit(event Event) int {
	kind := event.Kind()
	st := b.statsFor(kind)

	if key, has := event.DedupKey(); has {
		seen := b.seenKeys[kind]
		if seen == nil {
			seen = make(map[string]struct{})
			b.seenKeys[kind] = seen
		}
		if _, dup := seen[key]; dup {
			st.Dropped++
			b.logger.Debug("dropped duplicate event", zap.String("kind", string(kind)), zap.String("key", key))
			return 0
		}
		seen[key] = struct{}{}
	}

	st.Emitted++
	b.record(event)

	invoked := 0
	for _, entry := range b.handlers[kind] {
		if event.Consumed() {
			break
		}
		b.invoke(entry, event)
		invoked++
	}
	st.Handled += invoked
	return invoked
}

// invoke runs a single handler, recovering from a panic so that a failure
// in one handler never aborts dispatch to the remaining handlers.
func (b *Bus) invoke(entry handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(event.Kind())),
				zap.Uint64("token", uint64(entry.token)),
				zap.Any("recovered", r),
			)
		}
	}()
	entry.handler(event)
}

// Reset clears dedup state, statistics, and history. It does NOT unregister
// handlers; call Unregister explicitly for that.
func (b *Bus) Reset() {
	b.seenKeys = make(map[Kind]map[string]struct{})
	b.stats = make(map[Kind]*KindStats)
	b.history = nil
}

// Stats returns a snapshot of per-kind counters.
func (b *Bus) Stats() map[Kind]KindStats {
	out := make(map[Kind]KindStats, len(b.stats))
	for k, v := range b.stats {
		out[k] = *v
	}
	return out
}

// History returns the bounded ring of recently emitted (non-dropped) events,
// oldest first, for test introspection.
func (b *Bus) History() []Event {
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Bus) statsFor(kind Kind) *KindStats {
	st, ok := b.stats[kind]
	if !ok {
		st = &KindStats{}
		b.stats[kind] = st
	}
	return st
}

func (b *Bus) record(event Event) {
	b.history = append(b.history, event)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
}

func sortHandlers(list []handlerEntry) {
	// insertion sort: descending priority, ascending seq on ties. Handler
	// lists stay small (single digits per kind) so this is cheaper than
	// pulling in sort.Slice for a handful of elements.
	for i := 1; i < len(list); i++ {
		j := i
		for j > 0 && less(list[j], list[j-1]) {
			list[j], list[j-1] = list[j-1], list[j]
			j--
		}
	}
}

func less(a, b handlerEntry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// String renders a Token for logging.
func (t Token) String() string { return fmt.Sprintf("tok#%d", uint64(t)) }
