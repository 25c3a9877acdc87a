package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the unit of client intent against a symbol's book (spec.md §3).
//
// Invariants the rest of the system must preserve:
//   - Remaining is always in [0, Original].
//   - a Filled order has Remaining == 0; a Cancelled order keeps whatever
//     Remaining it had at cancel time.
//   - Status.InBook() iff the order is present in its venue's sorted set.
type Order struct {
	ID        string
	AccountID string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal // zero value is meaningless for market orders unless used as a protection cap
	HasPrice  bool            // false for unprotected market orders
	Original  decimal.Decimal
	Remaining decimal.Decimal
	Venue     Venue
	TIF       TIF
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// ReservationID ties this order to the ledger hold taken on its
	// behalf at entry time (spec.md §4.C); empty for orders that took no
	// hold (unpriced market buys). It is not cleared when the hold is
	// released.
	ReservationID string

	// seq is a monotonic tiebreaker assigned on every (re)insertion into a
	// book. It is not part of the wire/model contract, only the book's
	// FIFO ordering; amends that forfeit priority get a fresh seq.
	seq uint64
}

func (o Order) String() string {
	return fmt.Sprintf(
		`Order{ID: %s, Account: %s, Symbol: %s, Side: %s, Type: %s, Price: %s, Qty: %s/%s, Venue: %s, TIF: %s, Status: %s}`,
		o.ID, o.AccountID, o.Symbol, o.Side, o.Type, o.Price.String(),
		o.Remaining.String(), o.Original.String(), o.Venue, o.TIF, o.Status,
	)
}

// Seq returns the book-ordering tiebreaker currently assigned to the order.
func (o *Order) Seq() uint64 { return o.seq }

// SetSeq assigns a fresh book-ordering tiebreaker. Called by the book on
// insert and on any amend that forfeits time priority.
func (o *Order) SetSeq(seq uint64) { o.seq = seq }

// Filled reports whether the order has no remaining quantity.
func (o *Order) Filled() bool { return o.Remaining.IsZero() }

// Trade is an immutable execution record (spec.md §3).
type Trade struct {
	ID            string
	Symbol        string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	BuyOrderID    string
	SellOrderID   string
	BuyAccountID  string
	SellAccountID string
	Venue         Venue
	Timestamp     time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{ID: %s, Symbol: %s, Price: %s, Qty: %s, Buy: %s/%s, Sell: %s/%s, Venue: %s}",
		t.ID, t.Symbol, t.Price.String(), t.Quantity.String(),
		t.BuyOrderID, t.BuyAccountID, t.SellOrderID, t.SellAccountID, t.Venue,
	)
}

// PriceLevelView is the aggregated view of one price level returned by
// depth queries (spec.md §4.B "depth").
type PriceLevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}
