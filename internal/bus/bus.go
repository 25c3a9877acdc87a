// Package bus implements the topic pub/sub event layer of spec.md §4.E on
// top of internal/store's channel primitive: per-topic envelopes, bounded
// per-subscriber queues with drop-oldest for snapshot-style topics, a
// genuinely unbounded relay for trade topics (never dropped), a periodic
// order-book snapshot broadcaster, and a latency heartbeat.
//
// Grounded on 0xtitan6-polymarket-mm/internal/api/stream.go's Hub: the
// same "bounded channel per subscriber, non-blocking publish" shape, here
// delegated to the store's own Publish/Subscribe rather than a
// hand-rolled register/unregister goroutine, since the store already
// implements that queue.
package bus

import (
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"oes/internal/model"
	"oes/internal/store"
)

const (
	snapshotQueueSize = 32
	tradeQueueSize    = 4096 // "very-large" stand-in for spec.md's unbounded trade queue
	depthLevels       = 50
)

// BookSource is the subset of *book.Book the bus needs to render periodic
// snapshots. The dark venue is never passed in: per the glossary, the
// dark book is invisible to public depth queries.
type BookSource interface {
	Depth(symbol string, venue model.Venue, n int) (bids, asks []model.PriceLevelView)
}

// Bus is the event fanout layer. One Bus serves every symbol and topic.
type Bus struct {
	store store.Store
	books BookSource

	snapshotEvery time.Duration
	latencyEvery  time.Duration

	mu         sync.Mutex
	symbolRefs map[string]int // symbols with at least one live orderbook subscriber
}

// New constructs a Bus. snapshotEvery and latencyEvery are the periods of
// the two background broadcasters (spec.md §6's OES_SNAPSHOT_MS and
// OES_LATENCY_MS).
func New(s store.Store, books BookSource, snapshotEvery, latencyEvery time.Duration) *Bus {
	return &Bus{
		store:         s,
		books:         books,
		snapshotEvery: snapshotEvery,
		latencyEvery:  latencyEvery,
		symbolRefs:    make(map[string]int),
	}
}

// Subscribe registers interest in topic and returns a receive-only channel
// of encoded envelopes plus a cancel func. Subscribing to the same topic
// more than once is fine — each call yields an independent queue; the
// session layer is responsible for not subscribing to one topic twice
// per client (idempotence is enforced at that layer, per spec.md §4.F).
func (b *Bus) Subscribe(topic string) (<-chan []byte, func()) {
	if isOrderbookTopic(topic) {
		if sym, ok := symbolOf(topic); ok {
			b.mu.Lock()
			b.symbolRefs[sym]++
			b.mu.Unlock()
			raw, rawCancel := b.store.Subscribe(topic, snapshotQueueSize)
			cancel := func() {
				rawCancel()
				b.mu.Lock()
				b.symbolRefs[sym]--
				if b.symbolRefs[sym] <= 0 {
					delete(b.symbolRefs, sym)
				}
				b.mu.Unlock()
			}
			return raw, cancel
		}
	}

	if isTradesTopic(topic) {
		raw, rawCancel := b.store.Subscribe(topic, tradeQueueSize)
		relayed, relayDone := unbounded(raw)
		cancel := func() {
			rawCancel()
			<-relayDone
		}
		return relayed, cancel
	}

	return b.store.Subscribe(topic, snapshotQueueSize)
}

// unbounded wraps a bounded input channel with a growable internal buffer
// so the returned channel never drops a value, even if the consumer falls
// behind — the "unbounded ... queue" spec.md §4.E requires for trades.
// The store's own channel (sized tradeQueueSize) is drained as fast as
// this goroutine can run, so it is only a safety margin, not the
// guarantee; the guarantee is this buffer.
func unbounded(in <-chan []byte) (<-chan []byte, <-chan struct{}) {
	out := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer close(done)
		var buf [][]byte
		for {
			if len(buf) == 0 {
				v, ok := <-in
				if !ok {
					return
				}
				buf = append(buf, v)
				continue
			}
			select {
			case v, ok := <-in:
				if !ok {
					for _, item := range buf {
						out <- item
					}
					return
				}
				buf = append(buf, v)
			case out <- buf[0]:
				buf = buf[1:]
			}
		}
	}()
	return out, done
}

// PublishOrderbook sends a full depth snapshot for symbol.
func (b *Bus) PublishOrderbook(symbol string, bids, asks []model.PriceLevelView) {
	b.store.Publish(OrderbookTopic(symbol), encode(TypeOrderbook, map[string]any{
		"symbol": symbol,
		"bids":   bids,
		"asks":   asks,
	}))
}

// PublishTrade announces an executed trade on its symbol's trade topic.
func (b *Bus) PublishTrade(t model.Trade) {
	b.store.Publish(TradesTopic(t.Symbol), encode(TypeTrade, map[string]any{
		"trade": t,
	}))
}

// PublishTradeExecuted is the companion notification spec.md §4.D.1.iv
// requires alongside the raw trade event — routed to notifications so
// per-account consumers don't need to subscribe to every symbol's trade
// feed just to learn their own order filled.
func (b *Bus) PublishTradeExecuted(t model.Trade) {
	b.store.Publish(NotificationsTopic, encode(TypeTradeExecuted, map[string]any{
		"trade": t,
	}))
}

// PublishOrdersUpdated announces an order's status transition.
func (b *Bus) PublishOrdersUpdated(o *model.Order) {
	b.store.Publish(NotificationsTopic, encode(TypeOrdersUpdated, map[string]any{
		"order": o,
	}))
}

// PublishToast sends a free-form informational message.
func (b *Bus) PublishToast(accountID, message string) {
	b.store.Publish(NotificationsTopic, encode(TypeToast, map[string]any{
		"account_id": accountID,
		"message":    message,
	}))
}

// PublishError surfaces a structured failure to a specific account.
func (b *Bus) PublishError(accountID string, code model.Code, detail string) {
	b.store.Publish(NotificationsTopic, encode(TypeError, map[string]any{
		"account_id": accountID,
		"code":       string(code),
		"detail":     detail,
	}))
}

func (b *Bus) publishLatency(ms float64) {
	b.store.Publish(SystemTopic, encode(TypeLatency, map[string]any{
		"latency_ms": ms,
	}))
}

// Run starts the snapshot broadcaster and latency heartbeat as two
// tomb-managed goroutines; it returns once both have been started and
// exits when t is killed.
func (b *Bus) Run(t *tomb.Tomb) {
	t.Go(func() error { return b.snapshotLoop(t) })
	t.Go(func() error { return b.latencyLoop(t) })
}

func (b *Bus) snapshotLoop(t *tomb.Tomb) error {
	ticker := time.NewTicker(b.snapshotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			b.broadcastSnapshots()
		}
	}
}

func (b *Bus) broadcastSnapshots() {
	b.mu.Lock()
	symbols := make([]string, 0, len(b.symbolRefs))
	for sym := range b.symbolRefs {
		symbols = append(symbols, sym)
	}
	b.mu.Unlock()

	for _, sym := range symbols {
		bids, asks := b.books.Depth(sym, model.Lit, depthLevels)
		b.PublishOrderbook(sym, bids, asks)
	}
}

func (b *Bus) latencyLoop(t *tomb.Tomb) error {
	ticker := time.NewTicker(b.latencyEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			start := time.Now()
			b.store.Keys(SystemTopic)
			b.publishLatency(float64(time.Since(start).Microseconds()) / 1000.0)
		}
	}
}
