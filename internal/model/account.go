package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the owner of cash, positions, and orders (spec.md §3). It is
// created once by an admin call and never deleted — only deactivated.
type Account struct {
	ID          string
	Name        string
	Cash        decimal.Decimal
	Type        AccountType
	Risk        RiskLevel
	Active      bool
	CreatedAt   time.Time
}

func (a Account) String() string {
	return fmt.Sprintf(
		"Account{ID: %s, Name: %s, Cash: %s, Type: %s, Risk: %s, Active: %t}",
		a.ID, a.Name, a.Cash.String(), a.Type, a.Risk, a.Active,
	)
}

// Position is an (account, symbol) net holding with a volume-weighted
// average price.
type Position struct {
	AccountID string
	Symbol    string
	Quantity  decimal.Decimal // signed; negative means short
	VWAP      decimal.Decimal
}

func (p Position) String() string {
	return fmt.Sprintf("Position{Account: %s, Symbol: %s, Qty: %s, VWAP: %s}",
		p.AccountID, p.Symbol, p.Quantity.String(), p.VWAP.String())
}

// Transaction is an append-only ledger entry. Never mutated after write.
type Transaction struct {
	ID           string
	AccountID    string
	Kind         TxnKind
	Amount       decimal.Decimal // signed
	BalanceAfter decimal.Decimal
	Description  string
	Timestamp    time.Time
}

func (t Transaction) String() string {
	return fmt.Sprintf(
		"Transaction{ID: %s, Account: %s, Kind: %s, Amount: %s, BalanceAfter: %s, Desc: %q, At: %v}",
		t.ID, t.AccountID, t.Kind, t.Amount.String(), t.BalanceAfter.String(), t.Description,
		t.Timestamp.Format(time.RFC3339),
	)
}

// Reservation is a hold placed against an account's cash (buy side) or
// position (sell side) while an order rests in the book.
type Reservation struct {
	ID        string
	AccountID string
	Symbol    string
	Side      Side
	OrderID   string
	Qty       decimal.Decimal // original reserved quantity
	Remaining decimal.Decimal // quantity not yet released/converted
	Price     decimal.Decimal // only meaningful for buy-side cash reservations
}
