// Package book implements the per-symbol, per-venue price-time ordered
// order book of spec.md §4.B: insert, amend, cancel, consume and depth
// queries over a lit and a dark venue, backed by the store abstraction.
//
// Grounded on saiputravu-Exchange/internal/engine/orderbook.go: the same
// "probe the tree with a dummy key" idiom for price-level lookups, the
// same MinMut-style best-of-book walk (here expressed as a ZRange(0,0)),
// and the same slice-trim-on-partial-consume approach to removing spent
// liquidity — generalized to venue-aware keys and pushed down onto the
// store abstraction instead of a bare btree.
package book

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"oes/internal/model"
	"oes/internal/store"
)

// Book is the order book for every symbol and venue; keys are namespaced
// per (venue, symbol, side), so one Book instance serves the whole engine.
type Book struct {
	store store.Store
	seq   atomic.Uint64
}

// New constructs a Book backed by s.
func New(s store.Store) *Book {
	return &Book{store: s}
}

func (b *Book) nextSeq() uint64 {
	return b.seq.Add(1)
}

func sideKey(venue model.Venue, symbol string, side model.Side) string {
	name := "bids"
	if side == model.Sell {
		name = "asks"
	}
	return bookKey(venue.String(), symbol, name)
}

// scoreFor implements spec.md §4.B's scoring convention: score = price for
// asks, score = -price for bids, so that an ascending ZRange scan always
// yields the best price first on both sides.
func scoreFor(side model.Side, price decimal.Decimal) float64 {
	f, _ := price.Float64()
	if side == model.Buy {
		return -f
	}
	return f
}

// Insert appends order to its venue's book. Fails with VALIDATION if
// Remaining <= 0 (spec.md's REJECTED case for a non-positive quantity).
func (b *Book) Insert(o *model.Order) error {
	if o.Remaining.Sign() <= 0 {
		return model.NewError(model.CodeValidation, "cannot insert an order with non-positive remaining quantity")
	}
	o.SetSeq(b.nextSeq())
	o.UpdatedAt = time.Now()
	if o.Status != model.StatusPartiallyFilled {
		o.Status = model.StatusOpen
	}
	key := sideKey(o.Venue, o.Symbol, o.Side)
	b.store.ZAdd(key, scoreFor(o.Side, o.Price), o.Seq(), o.ID)
	b.store.HSet(orderKey(o.ID), toRecord(o))
	return nil
}

// PeekBest returns the head order at the best price for (symbol, side,
// venue), or false if that side of that venue is empty.
func (b *Book) PeekBest(symbol string, side model.Side, venue model.Venue) (*model.Order, bool) {
	key := sideKey(venue, symbol, side)
	members := b.store.ZRange(key, 0, 0, false)
	if len(members) == 0 {
		return nil, false
	}
	rec, ok := b.store.HGet(orderKey(members[0]))
	if !ok {
		return nil, false
	}
	return fromRecord(rec), true
}

// Get returns the current record for an order id.
func (b *Book) Get(orderID string) (*model.Order, bool) {
	rec, ok := b.store.HGet(orderKey(orderID))
	if !ok {
		return nil, false
	}
	return fromRecord(rec), true
}

// Consume atomically decrements an order's remaining quantity by qty. If
// remaining reaches zero the order is removed from its sorted set and
// marked filled. Fails with STALE if the order's remaining at the moment
// of the CAS is less than qty (a race loser — the caller should retry the
// matching step), or UNKNOWN_ORDER if the order no longer exists.
func (b *Book) Consume(orderID string, qty decimal.Decimal) (*model.Order, error) {
	var result *model.Order
	var failure error

	committed := b.store.CAS(orderKey(orderID), func(cur map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			failure = model.ErrUnknownOrder
			return nil, false
		}
		o := fromRecord(cur)
		if o.Remaining.LessThan(qty) {
			failure = model.ErrStale
			return nil, false
		}
		o.Remaining = o.Remaining.Sub(qty)
		o.UpdatedAt = time.Now()
		if o.Remaining.IsZero() {
			o.Status = model.StatusFilled
		} else {
			o.Status = model.StatusPartiallyFilled
		}
		result = o
		return toRecord(o), true
	})

	if !committed {
		if failure != nil {
			return nil, failure
		}
		return nil, model.ErrUnknownOrder
	}
	if result.Filled() {
		b.store.ZRem(sideKey(result.Venue, result.Symbol, result.Side), orderID)
	}
	return result, nil
}

// Rollback undoes a prior successful Consume of qty against orderID,
// restoring its remaining quantity and, if the earlier consume had filled
// and removed it, re-inserting it at its original (score, seq) — so time
// priority is preserved across the rollback. Used by the matching engine
// when a ledger-side failure means a trade must not be recorded
// (spec.md §4.D "Failure handling").
func (b *Book) Rollback(orderID string, qty decimal.Decimal) error {
	var restored *model.Order
	var wasRemoved bool

	committed := b.store.CAS(orderKey(orderID), func(cur map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			return nil, false
		}
		o := fromRecord(cur)
		wasRemoved = o.Status == model.StatusFilled
		o.Remaining = o.Remaining.Add(qty)
		o.UpdatedAt = time.Now()
		if o.Remaining.Equal(o.Original) {
			o.Status = model.StatusOpen
		} else {
			o.Status = model.StatusPartiallyFilled
		}
		restored = o
		return toRecord(o), true
	})
	if !committed {
		return model.ErrUnknownOrder
	}
	if wasRemoved {
		key := sideKey(restored.Venue, restored.Symbol, restored.Side)
		b.store.ZAdd(key, scoreFor(restored.Side, restored.Price), restored.Seq(), orderID)
	}
	return nil
}

// Amend changes an order's price and/or total (original) quantity.
// A quantity-only decrease keeps time priority; any price change or
// quantity increase forfeits priority by re-inserting with a fresh
// sequence number. Quantity may not drop below the amount already
// executed. Spec.md §4.B.
func (b *Book) Amend(orderID string, newPrice *decimal.Decimal, newQuantity *decimal.Decimal) (*model.Order, error) {
	var result *model.Order
	var failure error
	var forfeit bool

	committed := b.store.CAS(orderKey(orderID), func(cur map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			failure = model.ErrUnknownOrder
			return nil, false
		}
		o := fromRecord(cur)
		if o.Status.Terminal() {
			failure = model.ErrAlreadyTerminal
			return nil, false
		}

		executed := o.Original.Sub(o.Remaining)
		priceChanged := false
		qtyIncreased := false

		if newQuantity != nil {
			if newQuantity.LessThan(executed) {
				failure = model.NewError(model.CodeInvalidAmend, "new quantity is below the already-executed amount")
				return nil, false
			}
			qtyIncreased = newQuantity.GreaterThan(o.Original)
			o.Original = *newQuantity
			o.Remaining = newQuantity.Sub(executed)
		}
		if newPrice != nil && !newPrice.Equal(o.Price) {
			priceChanged = true
			o.Price = *newPrice
		}

		if o.Remaining.Sign() <= 0 {
			failure = model.NewError(model.CodeInvalidAmend, "amended quantity leaves no remaining size")
			return nil, false
		}

		forfeit = priceChanged || qtyIncreased
		if forfeit {
			o.SetSeq(b.nextSeq())
		}
		if o.Remaining.Equal(o.Original) {
			o.Status = model.StatusOpen
		} else {
			o.Status = model.StatusPartiallyFilled
		}
		o.UpdatedAt = time.Now()
		result = o
		return toRecord(o), true
	})

	if !committed {
		return nil, failure
	}
	if forfeit {
		key := sideKey(result.Venue, result.Symbol, result.Side)
		b.store.ZRem(key, orderID)
		b.store.ZAdd(key, scoreFor(result.Side, result.Price), result.Seq(), orderID)
	}
	return result, nil
}

// SetReservationID records which ledger reservation backs an order,
// without touching its position in the sorted set — used when an amend
// releases and re-reserves funds at the new terms.
func (b *Book) SetReservationID(orderID, reservationID string) error {
	committed := b.store.CAS(orderKey(orderID), func(cur map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			return nil, false
		}
		o := fromRecord(cur)
		o.ReservationID = reservationID
		return toRecord(o), true
	})
	if !committed {
		return model.ErrUnknownOrder
	}
	return nil
}

// Cancel removes an order from its sorted set, if present, and marks it
// cancelled. Idempotent: calling Cancel on an already-terminal order
// reports already=true and returns no error.
func (b *Book) Cancel(orderID string) (already bool, err error) {
	var result *model.Order
	var wasResting bool

	committed := b.store.CAS(orderKey(orderID), func(cur map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			err = model.ErrUnknownOrder
			return nil, false
		}
		o := fromRecord(cur)
		if o.Status.Terminal() {
			already = true
			result = o
			return cur, false
		}
		wasResting = o.Status.InBook()
		o.Status = model.StatusCancelled
		o.UpdatedAt = time.Now()
		result = o
		return toRecord(o), true
	})

	if err != nil {
		return false, err
	}
	if already {
		return true, nil
	}
	if !committed {
		return false, model.ErrUnknownOrder
	}
	if wasResting {
		b.store.ZRem(sideKey(result.Venue, result.Symbol, result.Side), orderID)
	}
	return false, nil
}

// Depth returns up to n aggregated price levels per side for (symbol,
// venue), best price first.
func (b *Book) Depth(symbol string, venue model.Venue, n int) (bids, asks []model.PriceLevelView) {
	return b.depthSide(symbol, model.Buy, venue, n), b.depthSide(symbol, model.Sell, venue, n)
}

func (b *Book) depthSide(symbol string, side model.Side, venue model.Venue, n int) []model.PriceLevelView {
	if n <= 0 {
		return nil
	}
	key := sideKey(venue, symbol, side)
	members := b.store.ZRange(key, 0, -1, false)

	var levels []model.PriceLevelView
	var curPrice decimal.Decimal
	have := false

	for _, id := range members {
		rec, ok := b.store.HGet(orderKey(id))
		if !ok {
			continue
		}
		o := fromRecord(rec)
		if !have || !o.Price.Equal(curPrice) {
			if len(levels) >= n {
				break
			}
			levels = append(levels, model.PriceLevelView{Price: o.Price})
			curPrice = o.Price
			have = true
		}
		idx := len(levels) - 1
		levels[idx].Quantity = levels[idx].Quantity.Add(o.Remaining)
		levels[idx].Orders++
	}
	return levels
}

// RestingOrderIDs returns every order id currently resting on (symbol,
// side, venue), best price first — used by the FOK fillability walk and
// by the end-of-session day-order sweep.
func (b *Book) RestingOrderIDs(symbol string, side model.Side, venue model.Venue) []string {
	return b.store.ZRange(sideKey(venue, symbol, side), 0, -1, false)
}

// Reindex rebuilds every venue's sorted set from the order hashes already
// present in the store and advances the sequence counter past the highest
// seq found. Used by internal/snapshot after restoring order hashes from
// disk, since a snapshot only persists the hashes — the sorted sets are
// cheap to regenerate deterministically from them (spec.md §4.B's
// "mutually consistent" invariant, rebuilt rather than serialized twice).
func (b *Book) Reindex() {
	var maxSeq uint64
	for _, key := range b.store.Scan("order:*") {
		rec, ok := b.store.HGet(key)
		if !ok {
			continue
		}
		o := fromRecord(rec)
		if o.Seq() > maxSeq {
			maxSeq = o.Seq()
		}
		if !o.Status.InBook() {
			continue
		}
		key := sideKey(o.Venue, o.Symbol, o.Side)
		b.store.ZAdd(key, scoreFor(o.Side, o.Price), o.Seq(), o.ID)
	}
	for {
		cur := b.seq.Load()
		if cur >= maxSeq || b.seq.CompareAndSwap(cur, maxSeq) {
			return
		}
	}
}
