// Package matching implements the continuous crossing engine of spec.md
// §4.D: a dark-before-lit matching loop driven by both order entry and a
// periodic tick, FOK fillability pre-checks, bounded STALE retry, and
// ledger settlement with rollback on failure.
//
// Grounded on saiputravu-Exchange/internal/engine/engine.go's Engine
// (a thin owner of the book that exposes a single Trade entry point for
// every fill) and internal/engine/orderbook.go's Match (the
// later-timestamp-is-taker rule used here to treat the periodic tick's
// generic bid/ask sweep the same way as an order-triggered match).
package matching

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"

	"oes/internal/book"
	"oes/internal/bus"
	"oes/internal/ledger"
	"oes/internal/model"
)

const maxStaleRetries = 8

// Engine owns the crossing loop. One Engine instance serves every symbol;
// the underlying Book is itself already multi-symbol, multi-venue.
type Engine struct {
	Book   *book.Book
	Ledger *ledger.Ledger
	Bus    *bus.Bus

	tickEvery time.Duration

	mu      sync.Mutex
	symbols map[string]bool
}

// New constructs an Engine. tickEvery is spec.md §6's OES_MATCH_TICK_MS.
func New(b *book.Book, l *ledger.Ledger, evt *bus.Bus, tickEvery time.Duration) *Engine {
	return &Engine{
		Book:      b,
		Ledger:    l,
		Bus:       evt,
		tickEvery: tickEvery,
		symbols:   make(map[string]bool),
	}
}

func (e *Engine) trackSymbol(symbol string) {
	e.mu.Lock()
	e.symbols[symbol] = true
	e.mu.Unlock()
}

func (e *Engine) activeSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	return out
}

func validateOrder(o *model.Order) error {
	if o.Symbol == "" || o.AccountID == "" {
		return model.NewError(model.CodeValidation, "order requires a symbol and account_id")
	}
	if o.Original.Sign() <= 0 {
		return model.NewError(model.CodeValidation, "order quantity must be positive")
	}
	if o.Type == model.LimitOrder && !o.HasPrice {
		return model.NewError(model.CodeValidation, "limit orders require a price")
	}
	if o.HasPrice && o.Price.Sign() <= 0 {
		return model.NewError(model.CodeValidation, "price must be positive when present")
	}
	return nil
}

// Submit validates, reserves, optionally pre-checks fillability, runs the
// crossing loop against both venues (dark preferred), and either rests,
// cancels, or fully fills the incoming order — spec.md §4.D's "Matching
// loop per new/amended order".
func (e *Engine) Submit(o *model.Order) (*model.Order, []model.Trade, error) {
	now := time.Now()
	o.ID = orDefault(o.ID, uuid.New().String())
	o.CreatedAt, o.UpdatedAt = now, now
	o.Remaining = o.Original
	o.Status = model.StatusNew

	if err := validateOrder(o); err != nil {
		o.Status = model.StatusRejected
		return o, nil, err
	}
	e.trackSymbol(o.Symbol)

	needsReservation := !(o.Side == model.Buy && o.Type == model.MarketOrder && !o.HasPrice)
	if needsReservation {
		reservePrice := o.Price
		if !o.HasPrice {
			reservePrice = decimal.Zero
		}
		res, err := e.Ledger.Reserve(o.AccountID, o.Side, o.Symbol, o.ID, o.Original, reservePrice)
		if err != nil {
			o.Status = model.StatusRejected
			return o, nil, err
		}
		o.ReservationID = res.ID
	}

	if o.TIF == model.FOK && !e.fillable(o) {
		if needsReservation {
			_ = e.Ledger.Release(o.AccountID, o.ReservationID)
		}
		o.Status = model.StatusRejected
		o.UpdatedAt = time.Now()
		e.Bus.PublishOrdersUpdated(o)
		return o, nil, model.ErrNotFillable
	}

	trades, err := e.matchIncoming(o)
	if err != nil {
		if needsReservation {
			_ = e.Ledger.Release(o.AccountID, o.ReservationID)
		}
		o.Status = model.StatusRejected
		o.UpdatedAt = time.Now()
		e.Bus.PublishOrdersUpdated(o)
		return o, trades, err
	}

	if o.Remaining.Sign() > 0 {
		switch {
		case o.TIF.Resting() && o.Type == model.LimitOrder:
			if err := e.Book.Insert(o); err != nil {
				if needsReservation {
					_ = e.Ledger.Release(o.AccountID, o.ReservationID)
				}
				o.Status = model.StatusRejected
				return o, trades, err
			}
		default:
			// IOC, or a market order's unfilled remainder: cancel it.
			if needsReservation {
				_ = e.Ledger.Release(o.AccountID, o.ReservationID)
			}
			o.Status = model.StatusCancelled
			o.UpdatedAt = time.Now()
		}
	}

	e.Bus.PublishOrdersUpdated(o)
	return o, trades, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Amend changes a resting order's price and/or quantity and keeps the
// ledger reservation consistent with the new terms.
func (e *Engine) Amend(orderID string, newPrice, newQuantity *decimal.Decimal) (*model.Order, error) {
	before, ok := e.Book.Get(orderID)
	if !ok {
		return nil, model.ErrUnknownOrder
	}
	updated, err := e.Book.Amend(orderID, newPrice, newQuantity)
	if err != nil {
		return nil, err
	}

	if before.ReservationID != "" {
		_ = e.Ledger.Release(before.AccountID, before.ReservationID)
		res, err := e.Ledger.Reserve(updated.AccountID, updated.Side, updated.Symbol, updated.ID, updated.Remaining, updated.Price)
		if err != nil {
			// Put the order back the way it was; the amend must not
			// leave an order resting with no funding behind it.
			_, _ = e.Book.Amend(orderID, &before.Price, &before.Original)
			if old, rerr := e.Ledger.Reserve(before.AccountID, before.Side, before.Symbol, before.ID, before.Remaining, before.Price); rerr == nil {
				_ = e.Book.SetReservationID(orderID, old.ID)
			}
			return nil, err
		}
		updated.ReservationID = res.ID
		if err := e.Book.SetReservationID(orderID, res.ID); err != nil {
			return nil, err
		}
	}

	e.Bus.PublishOrdersUpdated(updated)
	return updated, nil
}

// Cancel removes a resting order and releases its reservation.
func (e *Engine) Cancel(orderID string) (already bool, err error) {
	o, ok := e.Book.Get(orderID)
	if !ok {
		return false, model.ErrUnknownOrder
	}
	already, err = e.Book.Cancel(orderID)
	if err != nil {
		return false, err
	}
	if already {
		return true, nil
	}
	if o.ReservationID != "" {
		_ = e.Ledger.Release(o.AccountID, o.ReservationID)
	}
	o.Status = model.StatusCancelled
	e.Bus.PublishOrdersUpdated(o)
	return false, nil
}

// SweepDayOrders cancels every resting TIF=day order, for the
// end-of-session sweep spec.md §5 requires.
func (e *Engine) SweepDayOrders() int {
	count := 0
	for _, symbol := range e.activeSymbols() {
		for _, venue := range []model.Venue{model.Lit, model.Dark} {
			for _, side := range []model.Side{model.Buy, model.Sell} {
				for _, id := range e.Book.RestingOrderIDs(symbol, side, venue) {
					o, ok := e.Book.Get(id)
					if !ok || o.TIF != model.Day {
						continue
					}
					if _, err := e.Cancel(id); err != nil {
						log.Warn().Err(err).Str("order", id).Msg("end-of-session sweep failed to cancel order")
						continue
					}
					count++
				}
			}
		}
	}
	return count
}

// crosses reports whether resting may trade against incoming, honoring
// the unprotected-unless-capped market order rule (spec.md §9).
func crosses(incoming, resting *model.Order) bool {
	if incoming.Type == model.MarketOrder && !incoming.HasPrice {
		return true
	}
	if incoming.Side == model.Buy {
		return resting.Price.LessThanOrEqual(incoming.Price)
	}
	return resting.Price.GreaterThanOrEqual(incoming.Price)
}

func (e *Engine) peekBestBothVenues(symbol string, side model.Side) (*model.Order, model.Venue, bool) {
	if o, ok := e.Book.PeekBest(symbol, side, model.Dark); ok {
		return o, model.Dark, true
	}
	if o, ok := e.Book.PeekBest(symbol, side, model.Lit); ok {
		return o, model.Lit, true
	}
	return nil, model.Lit, false
}

// fillable performs the FOK non-mutating walk of spec.md §4.D: can the
// full remaining quantity be filled at prices that cross, without
// touching the book.
func (e *Engine) fillable(o *model.Order) bool {
	need := o.Remaining
	opposite := o.Side.Opposite()

	for _, venue := range []model.Venue{model.Dark, model.Lit} {
		for _, id := range e.Book.RestingOrderIDs(o.Symbol, opposite, venue) {
			rec, ok := e.Book.Get(id)
			if !ok {
				continue
			}
			if !crosses(o, rec) {
				break // best-first ordering: nothing further on this venue crosses either
			}
			take := decimal.Min(need, rec.Remaining)
			need = need.Sub(take)
			if need.Sign() <= 0 {
				return true
			}
		}
	}
	return need.Sign() <= 0
}

// matchIncoming runs the crossing loop for an order that has not yet been
// inserted into the book (a fresh Submit).
func (e *Engine) matchIncoming(incoming *model.Order) ([]model.Trade, error) {
	var trades []model.Trade
	opposite := incoming.Side.Opposite()

	for incoming.Remaining.Sign() > 0 {
		resting, venue, ok := e.peekBestBothVenues(incoming.Symbol, opposite)
		if !ok || !crosses(incoming, resting) {
			break
		}
		qty := decimal.Min(incoming.Remaining, resting.Remaining)
		price := resting.Price

		var buyer, seller *model.Order
		if incoming.Side == model.Buy {
			buyer, seller = incoming, resting
		} else {
			buyer, seller = resting, incoming
		}

		trade, err := e.fillWithRetry(buyer, seller, qty, price, venue)
		if err != nil {
			return trades, err
		}
		if trade == nil {
			continue // the resting order vanished under us; re-peek fresh best
		}
		trades = append(trades, *trade)
	}
	return trades, nil
}

// Tick runs the generic two-sided sweep spec.md §4.D's periodic tick
// describes, as a safety net for missed wake-ups. It sweeps only the
// symbols this Engine has seen through Submit; orders placed directly in
// the book (for example by a snapshot reload) are not crossed by Tick
// until a Submit for their symbol has been made. Whichever side's best
// order was inserted later is treated as the taker, mirroring
// saiputravu-Exchange/internal/engine/orderbook.go's Match.
func (e *Engine) Tick() {
	for _, symbol := range e.activeSymbols() {
		e.crossSymbol(symbol)
	}
}

func (e *Engine) crossSymbol(symbol string) {
	for {
		bestBid, bidVenue, bidOk := e.peekBestBothVenues(symbol, model.Buy)
		bestAsk, askVenue, askOk := e.peekBestBothVenues(symbol, model.Sell)
		if !bidOk || !askOk || bestBid.Price.LessThan(bestAsk.Price) {
			return
		}

		qty := decimal.Min(bestBid.Remaining, bestAsk.Remaining)
		venue := askVenue
		price := bestAsk.Price
		if bestAsk.CreatedAt.After(bestBid.CreatedAt) {
			venue = bidVenue
			price = bestBid.Price
		}

		trade, err := e.fillWithRetry(bestBid, bestAsk, qty, price, venue)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("periodic tick failed to settle a crossing trade")
			return
		}
		if trade == nil {
			continue
		}
	}
}

// fillWithRetry executes one fill between buyer and seller, retrying up
// to maxStaleRetries times if the resting side (or both, on the tick
// path) races with another consumer — spec.md §7's bounded STALE
// recovery, escalating to INTERNAL on persistent failure.
func (e *Engine) fillWithRetry(buyer, seller *model.Order, qty, price decimal.Decimal, venue model.Venue) (*model.Trade, error) {
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		trade, err := e.executeFill(buyer, seller, qty, price, venue)
		if err == nil {
			return trade, nil
		}
		if errors.Is(err, model.ErrUnknownOrder) {
			return nil, nil
		}
		if !errors.Is(err, model.ErrStale) {
			return nil, err
		}

		qty, err = e.refreshQty(buyer, seller)
		if err != nil {
			return nil, nil
		}
		if qty.Sign() <= 0 {
			return nil, nil
		}
	}
	return nil, model.Wrap(model.CodeInternal, "exceeded STALE retry budget", model.ErrStale)
}

// refreshQty re-reads whichever sides are resting after a STALE loss and
// recomputes the fill quantity against their current remaining size.
func (e *Engine) refreshQty(buyer, seller *model.Order) (decimal.Decimal, error) {
	buyRemaining := buyer.Remaining
	sellRemaining := seller.Remaining

	if fresh, ok := e.Book.Get(buyer.ID); ok {
		if !fresh.Status.InBook() {
			return decimal.Zero, model.ErrUnknownOrder
		}
		*buyer = *fresh
		buyRemaining = fresh.Remaining
	}
	if fresh, ok := e.Book.Get(seller.ID); ok {
		if !fresh.Status.InBook() {
			return decimal.Zero, model.ErrUnknownOrder
		}
		*seller = *fresh
		sellRemaining = fresh.Remaining
	}
	return decimal.Min(buyRemaining, sellRemaining), nil
}

type consumeResult struct {
	order     *model.Order
	persisted bool
}

func (e *Engine) consumeSide(o *model.Order, qty decimal.Decimal) (consumeResult, error) {
	if _, ok := e.Book.Get(o.ID); ok {
		updated, err := e.Book.Consume(o.ID, qty)
		if err != nil {
			return consumeResult{}, err
		}
		return consumeResult{order: updated, persisted: true}, nil
	}

	updated := *o
	updated.Remaining = updated.Remaining.Sub(qty)
	updated.UpdatedAt = time.Now()
	if updated.Remaining.IsZero() {
		updated.Status = model.StatusFilled
	} else {
		updated.Status = model.StatusPartiallyFilled
	}
	return consumeResult{order: &updated, persisted: false}, nil
}

// executeFill is the single atomic step spec.md §4.D.1.iii describes:
// consume both sides, settle both ledger legs, and emit the trade — or
// roll every side back and return the failure untouched.
func (e *Engine) executeFill(buyer, seller *model.Order, qty, price decimal.Decimal, venue model.Venue) (*model.Trade, error) {
	buyResult, err := e.consumeSide(buyer, qty)
	if err != nil {
		return nil, err
	}
	sellResult, err := e.consumeSide(seller, qty)
	if err != nil {
		if buyResult.persisted {
			_ = e.Book.Rollback(buyer.ID, qty)
		}
		return nil, err
	}

	if err := e.settleTrade(buyResult.order, sellResult.order, qty, price); err != nil {
		if buyResult.persisted {
			_ = e.Book.Rollback(buyer.ID, qty)
		}
		if sellResult.persisted {
			_ = e.Book.Rollback(seller.ID, qty)
		}
		return nil, err
	}

	*buyer = *buyResult.order
	*seller = *sellResult.order

	trade := model.Trade{
		ID:            uuid.New().String(),
		Symbol:        buyer.Symbol,
		Price:         price,
		Quantity:      qty,
		BuyOrderID:    buyer.ID,
		SellOrderID:   seller.ID,
		BuyAccountID:  buyer.AccountID,
		SellAccountID: seller.AccountID,
		Venue:         venue,
		Timestamp:     time.Now(),
	}

	e.Bus.PublishTrade(trade)
	e.Bus.PublishTradeExecuted(trade)
	bids, asks := e.Book.Depth(buyer.Symbol, model.Lit, 50)
	e.Bus.PublishOrderbook(buyer.Symbol, bids, asks)
	e.Bus.PublishOrdersUpdated(buyer)
	e.Bus.PublishOrdersUpdated(seller)

	return &trade, nil
}

// settleTrade applies both ledger legs of a fill. Both accounts are
// confirmed to exist before either leg is applied, so an unknown account
// is caught before any mutation. The only other failure, an unreserved
// market buy the buyer cannot afford, comes from the buyer leg, which runs
// first and fails before changing anything — preserving spec.md's "either
// both ledger effects succeed, or none do" rule without needing a
// compensating undo inside the ledger itself.
func (e *Engine) settleTrade(buyer, seller *model.Order, qty, price decimal.Decimal) error {
	if _, err := e.Ledger.Account(buyer.AccountID); err != nil {
		return err
	}
	if _, err := e.Ledger.Account(seller.AccountID); err != nil {
		return err
	}
	if err := e.Ledger.ApplyFill(buyer.AccountID, buyer.ReservationID, model.Buy, buyer.Symbol, qty, price); err != nil {
		return err
	}
	if err := e.Ledger.ApplyFill(seller.AccountID, seller.ReservationID, model.Sell, seller.Symbol, qty, price); err != nil {
		return err
	}
	return nil
}

// Run starts the periodic matching tick as a tomb-managed goroutine.
func (e *Engine) Run(t *tomb.Tomb) {
	t.Go(func() error {
		ticker := time.NewTicker(e.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-t.Dying():
				return nil
			case <-ticker.C:
				e.Tick()
			}
		}
	})
}
