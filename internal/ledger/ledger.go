// Package ledger implements the account ledger of spec.md §4.C: accounts,
// positions, and an append-only transaction log, with reservation
// semantics for open orders. No teacher or pack example implements this
// component directly; it is built in the teacher's idiom (typed struct +
// methods + sentinel/typed errors, one mutex serializing mutation per
// account as spec.md §5 requires) directly from spec.md's operation list.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"oes/internal/model"
)

type account struct {
	mu           sync.Mutex
	data         model.Account
	positions    map[string]model.Position    // symbol -> position
	transactions []model.Transaction
	reservations map[string]model.Reservation // reservation id -> reservation
}

// Ledger owns every account, position, and transaction in the system.
type Ledger struct {
	mu       sync.RWMutex // guards the accounts map itself, not per-account mutation
	accounts map[string]*account
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

func (l *Ledger) find(accountID string) (*account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[accountID]
	return a, ok
}

// CreateAccount creates a new account. A positive initial balance is
// written as an opening deposit transaction; a zero balance writes none.
func (l *Ledger) CreateAccount(name string, initialBalance decimal.Decimal, accType model.AccountType, risk model.RiskLevel) (*model.Account, error) {
	if initialBalance.Sign() < 0 {
		return nil, model.NewError(model.CodeValidation, "initial balance cannot be negative")
	}

	acc := model.Account{
		ID:        uuid.New().String(),
		Name:      name,
		Cash:      decimal.Zero,
		Type:      accType,
		Risk:      risk,
		Active:    true,
		CreatedAt: time.Now(),
	}
	a := &account{
		data:         acc,
		positions:    make(map[string]model.Position),
		reservations: make(map[string]model.Reservation),
	}

	l.mu.Lock()
	l.accounts[acc.ID] = a
	l.mu.Unlock()

	if initialBalance.Sign() > 0 {
		if _, err := l.Deposit(acc.ID, initialBalance, "opening deposit"); err != nil {
			return nil, err
		}
	}

	got, _ := l.find(acc.ID)
	got.mu.Lock()
	defer got.mu.Unlock()
	result := got.data
	return &result, nil
}

// Account returns a snapshot of the account record.
func (l *Ledger) Account(accountID string) (*model.Account, error) {
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.data
	return &acc, nil
}

// Positions returns a snapshot of every position held by the account.
func (l *Ledger) Positions(accountID string) ([]model.Position, error) {
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out, nil
}

// Position returns the (account, symbol) position, or the zero position if
// none is held.
func (l *Ledger) Position(accountID, symbol string) (model.Position, error) {
	a, ok := l.find(accountID)
	if !ok {
		return model.Position{}, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.positions[symbol]; ok {
		return p, nil
	}
	return model.Position{AccountID: accountID, Symbol: symbol}, nil
}

// Transactions returns the account's transaction log, oldest first.
func (l *Ledger) Transactions(accountID string) ([]model.Transaction, error) {
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Transaction, len(a.transactions))
	copy(out, a.transactions)
	return out, nil
}

func (a *account) appendTxn(kind model.TxnKind, amount decimal.Decimal, desc string) model.Transaction {
	a.data.Cash = a.data.Cash.Add(amount)
	txn := model.Transaction{
		ID:           uuid.New().String(),
		AccountID:    a.data.ID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: a.data.Cash,
		Description:  desc,
		Timestamp:    time.Now(),
	}
	a.transactions = append(a.transactions, txn)
	return txn
}

// Deposit credits cash to the account, independent of trading.
func (l *Ledger) Deposit(accountID string, amount decimal.Decimal, description string) (*model.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, model.NewError(model.CodeValidation, "deposit amount must be positive")
	}
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	txn := a.appendTxn(model.TxnDeposit, amount, description)
	return &txn, nil
}

// Withdraw debits cash from the account, independent of trading.
func (l *Ledger) Withdraw(accountID string, amount decimal.Decimal, description string) (*model.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, model.NewError(model.CodeValidation, "withdrawal amount must be positive")
	}
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data.Cash.LessThan(amount) {
		return nil, model.ErrInsufficientFunds
	}
	txn := a.appendTxn(model.TxnWithdrawal, amount.Neg(), description)
	return &txn, nil
}

// reservedSellQty returns the symbol quantity already held against open
// sell reservations, excluding the one named skipReservationID (used when
// re-reserving on an amend).
func (a *account) reservedSellQty(symbol, skipReservationID string) decimal.Decimal {
	total := decimal.Zero
	for id, r := range a.reservations {
		if id == skipReservationID {
			continue
		}
		if r.Symbol == symbol && r.Side == model.Sell {
			total = total.Add(r.Remaining)
		}
	}
	return total
}

// Reserve places a hold for a new order: cash for buys, position units for
// sells. Short selling (reserving more sell quantity than is held) is
// rejected unless the account's risk level is high (spec.md §9 "Open
// question — short selling").
func (l *Ledger) Reserve(accountID string, side model.Side, symbol, orderID string, qty, price decimal.Decimal) (*model.Reservation, error) {
	a, ok := l.find(accountID)
	if !ok {
		return nil, model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res := model.Reservation{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		OrderID:   orderID,
		Qty:       qty,
		Remaining: qty,
		Price:     price,
	}

	switch side {
	case model.Buy:
		amount := qty.Mul(price)
		if a.data.Cash.LessThan(amount) {
			return nil, model.ErrInsufficientFunds
		}
		a.appendTxn(model.TxnReservation, amount.Neg(), "reserve for order "+orderID)
	case model.Sell:
		if a.data.Risk != model.RiskHigh {
			pos := a.positions[symbol]
			available := pos.Quantity.Sub(a.reservedSellQty(symbol, ""))
			if available.LessThan(qty) {
				return nil, model.ErrInsufficientPosn
			}
		}
		// No cash transaction: the hold is against position, not cash.
	}

	a.reservations[res.ID] = res
	return &res, nil
}

// Release undoes the unfilled portion of a reservation — on cancel or
// reject. For buys, the unused cash hold is credited back as a `release`
// transaction; for sells, no cash moved so there is nothing to credit.
func (l *Ledger) Release(accountID, reservationID string) error {
	a, ok := l.find(accountID)
	if !ok {
		return model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.reservations[reservationID]
	if !ok {
		return nil // already released; Release is idempotent
	}
	if res.Side == model.Buy && res.Remaining.Sign() > 0 {
		amount := res.Remaining.Mul(res.Price)
		a.appendTxn(model.TxnRelease, amount, "release unused reservation for order "+res.OrderID)
	}
	delete(a.reservations, reservationID)
	return nil
}

// ApplyFill settles one side of a trade against this account: moves cash,
// updates the position's vwap, and releases the executed portion of the
// order's reservation. qty is the traded quantity and tradePrice the trade
// price; side is this account's side in the trade (buyer or seller).
//
// For the buy side, the cash debit was already taken in full at Reserve
// time (at the order's limit price); this call credits back the spread
// between the reserved rate and the actual trade rate, which is this
// implementation's way of fulfilling spec.md's "releases proportional
// reservation" and "writes a trade_buy transaction" in a single entry
// rather than two that would otherwise double-count the cash movement.
// Documented as an explicit design call in DESIGN.md.
func (l *Ledger) ApplyFill(accountID, reservationID string, side model.Side, symbol string, qty, tradePrice decimal.Decimal) error {
	a, ok := l.find(accountID)
	if !ok {
		return model.NewError(model.CodeValidation, "unknown account "+accountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, reserved := a.reservations[reservationID]; side == model.Buy && !reserved && a.data.Cash.LessThan(qty.Mul(tradePrice)) {
		return model.ErrInsufficientFunds
	}

	pos := a.positions[symbol]
	pos.AccountID = accountID
	pos.Symbol = symbol
	pos = applyPositionFill(pos, side, qty, tradePrice)
	a.positions[symbol] = pos

	res, hasRes := a.reservations[reservationID]

	switch side {
	case model.Buy:
		actualCost := qty.Mul(tradePrice)
		var amount decimal.Decimal
		if hasRes {
			reservedAtRate := qty.Mul(res.Price)
			amount = reservedAtRate.Sub(actualCost)
			res.Remaining = res.Remaining.Sub(qty)
			if res.Remaining.Sign() <= 0 {
				delete(a.reservations, reservationID)
			} else {
				a.reservations[reservationID] = res
			}
		} else {
			// No reservation exists for unprotected market buys (the
			// price is unknown at entry time, so nothing was held in
			// advance); check affordability and charge the full cost here.
			if a.data.Cash.LessThan(actualCost) {
				return model.ErrInsufficientFunds
			}
			amount = actualCost.Neg()
		}
		a.appendTxn(model.TxnTradeBuy, amount, "fill on "+symbol)
	case model.Sell:
		proceeds := qty.Mul(tradePrice)
		if hasRes {
			res.Remaining = res.Remaining.Sub(qty)
			if res.Remaining.Sign() <= 0 {
				delete(a.reservations, reservationID)
			} else {
				a.reservations[reservationID] = res
			}
		}
		a.appendTxn(model.TxnTradeSell, proceeds, "fill on "+symbol)
	}

	log.Debug().
		Str("account", accountID).
		Str("symbol", symbol).
		Str("side", side.String()).
		Str("qty", qty.String()).
		Str("price", tradePrice.String()).
		Msg("applied fill to ledger")
	return nil
}

// applyPositionFill folds one fill into a position using a weighted
// average price on the side that adds to exposure, and leaves vwap
// unchanged on the side that merely reduces it — matching spec.md's
// end-to-end scenario 1, where a seller's vwap is untouched by a
// reducing trade.
func applyPositionFill(pos model.Position, side model.Side, qty, price decimal.Decimal) model.Position {
	signed := qty
	if side == model.Sell {
		signed = qty.Neg()
	}

	sameDirection := pos.Quantity.Sign() == 0 || sign(pos.Quantity) == sign(signed)
	if sameDirection {
		oldAbs := pos.Quantity.Abs()
		newAbs := oldAbs.Add(qty)
		if newAbs.IsZero() {
			pos.VWAP = decimal.Zero
		} else {
			pos.VWAP = oldAbs.Mul(pos.VWAP).Add(qty.Mul(price)).Div(newAbs)
		}
		pos.Quantity = pos.Quantity.Add(signed)
		return pos
	}

	oldAbs := pos.Quantity.Abs()
	if qty.LessThanOrEqual(oldAbs) {
		// Pure reduction: vwap of the remaining position is unchanged.
		pos.Quantity = pos.Quantity.Add(signed)
		if pos.Quantity.IsZero() {
			pos.VWAP = decimal.Zero
		}
		return pos
	}

	// The fill flips the position through zero; the remainder opens a
	// fresh position at the trade price.
	pos.Quantity = pos.Quantity.Add(signed)
	pos.VWAP = price
	return pos
}

func sign(d decimal.Decimal) int {
	return d.Sign()
}
