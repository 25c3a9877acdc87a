package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oes/internal/ledger"
	"oes/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newAccount(t *testing.T, l *ledger.Ledger, cash float64, risk model.RiskLevel) *model.Account {
	t.Helper()
	acc, err := l.CreateAccount("test", d(cash), model.Standard, risk)
	require.NoError(t, err)
	return acc
}

func TestCreateAccountWritesOpeningDeposit(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 1000, model.RiskLow)
	assert.True(t, acc.Cash.Equal(d(1000)))

	txns, err := l.Transactions(acc.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TxnDeposit, txns[0].Kind)
	assert.True(t, txns[0].BalanceAfter.Equal(d(1000)))
}

func TestDepositAndWithdraw(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 100, model.RiskLow)

	_, err := l.Deposit(acc.ID, d(50), "top-up")
	require.NoError(t, err)
	got, err := l.Account(acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(d(150)))

	_, err = l.Withdraw(acc.ID, d(200), "too much")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = l.Withdraw(acc.ID, d(150), "all of it")
	require.NoError(t, err)
	got, _ = l.Account(acc.ID)
	assert.True(t, got.Cash.IsZero())
}

func TestReserveBuyDebitsCashAndRejectsInsufficientFunds(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 500, model.RiskLow)

	res, err := l.Reserve(acc.ID, model.Buy, "AAPL", "order-1", d(4), d(100))
	require.NoError(t, err)
	assert.True(t, res.Remaining.Equal(d(4)))

	got, _ := l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(100)), "500 - 4*100 = 100")

	_, err = l.Reserve(acc.ID, model.Buy, "AAPL", "order-2", d(2), d(100))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
}

func TestReserveSellRejectsShortingUnlessRiskHigh(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 0, model.RiskLow)

	_, err := l.Reserve(acc.ID, model.Sell, "AAPL", "order-1", d(5), d(100))
	assert.ErrorIs(t, err, model.ErrInsufficientPosn)

	risky := newAccount(t, l, 0, model.RiskHigh)
	res, err := l.Reserve(risky.ID, model.Sell, "AAPL", "order-1", d(5), d(100))
	require.NoError(t, err, "risk=high accounts may short")
	assert.True(t, res.Remaining.Equal(d(5)))
}

func TestReleaseCreditsBackUnusedBuyReservation(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 500, model.RiskLow)

	res, err := l.Reserve(acc.ID, model.Buy, "AAPL", "order-1", d(4), d(100))
	require.NoError(t, err)

	require.NoError(t, l.Release(acc.ID, res.ID))
	got, _ := l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(500)), "full reservation must be refunded on release")

	// Idempotent.
	require.NoError(t, l.Release(acc.ID, res.ID))
}

func TestReserveSellAccountsForOtherOpenReservations(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 500, model.RiskLow)
	require.NoError(t, ledgerApplyBuyFill(l, acc.ID, "AAPL", d(10), d(50)))

	_, err := l.Reserve(acc.ID, model.Sell, "AAPL", "order-1", d(6), d(55))
	require.NoError(t, err)

	_, err = l.Reserve(acc.ID, model.Sell, "AAPL", "order-2", d(5), d(55))
	assert.ErrorIs(t, err, model.ErrInsufficientPosn, "only 4 units remain unreserved")
}

// ledgerApplyBuyFill is a small test helper that gives an account a starting
// position by reserving and then filling a buy, exercising the same path
// production code uses rather than poking at internals.
func ledgerApplyBuyFill(l *ledger.Ledger, accountID, symbol string, qty, price decimal.Decimal) error {
	res, err := l.Reserve(accountID, model.Buy, symbol, "seed-order", qty, price)
	if err != nil {
		return err
	}
	return l.ApplyFill(accountID, res.ID, model.Buy, symbol, qty, price)
}

func TestApplyFillBuyUpdatesPositionAndReleasesExcessReservation(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 2000, model.RiskLow)

	res, err := l.Reserve(acc.ID, model.Buy, "AAPL", "order-1", d(10), d(105))
	require.NoError(t, err)
	got, _ := l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(2000-1050)), "reserved at limit price 105")

	require.NoError(t, l.ApplyFill(acc.ID, res.ID, model.Buy, "AAPL", d(10), d(100)))

	got, _ = l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(2000-1000)), "excess between reserved 105 and traded 100 must be released")

	pos, err := l.Position(acc.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d(10)))
	assert.True(t, pos.VWAP.Equal(d(100)))
}

func TestApplyFillSellCreditsProceedsAndReducesPositionWithoutChangingVWAP(t *testing.T) {
	// Mirrors spec.md's end-to-end scenario: a seller holding 10 @ 100 who
	// sells 5 at a different trade price keeps a 100 vwap on the remainder.
	l := ledger.New()
	acc := newAccount(t, l, 1000, model.RiskLow)
	require.NoError(t, ledgerApplyBuyFill(l, acc.ID, "AAPL", d(10), d(100)))

	res, err := l.Reserve(acc.ID, model.Sell, "AAPL", "order-2", d(5), d(150))
	require.NoError(t, err)
	require.NoError(t, l.ApplyFill(acc.ID, res.ID, model.Sell, "AAPL", d(5), d(150)))

	pos, err := l.Position(acc.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d(5)))
	assert.True(t, pos.VWAP.Equal(d(100)), "reducing a position must not move its vwap")

	got, _ := l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(750)), "5 * 150 proceeds credited")
}

func TestApplyFillFlipsPositionThroughZeroAtTradePrice(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 1000, model.RiskHigh)

	res, err := l.Reserve(acc.ID, model.Sell, "AAPL", "order-1", d(5), d(100))
	require.NoError(t, err)
	require.NoError(t, l.ApplyFill(acc.ID, res.ID, model.Sell, "AAPL", d(5), d(100)))

	pos, _ := l.Position(acc.ID, "AAPL")
	assert.True(t, pos.Quantity.Equal(d(-5)))
	assert.True(t, pos.VWAP.Equal(d(100)))

	res2, err := l.Reserve(acc.ID, model.Buy, "AAPL", "order-2", d(8), d(120))
	require.NoError(t, err)
	require.NoError(t, l.ApplyFill(acc.ID, res2.ID, model.Buy, "AAPL", d(8), d(120)))

	pos, _ = l.Position(acc.ID, "AAPL")
	assert.True(t, pos.Quantity.Equal(d(3)), "short 5 covered, then 3 opened long")
	assert.True(t, pos.VWAP.Equal(d(120)), "the 3 remaining units open a fresh position at trade price")
}

func TestTransactionBalanceAfterMatchesRunningSum(t *testing.T) {
	l := ledger.New()
	acc := newAccount(t, l, 100, model.RiskLow)
	_, err := l.Deposit(acc.ID, d(50), "more")
	require.NoError(t, err)
	_, err = l.Withdraw(acc.ID, d(30), "less")
	require.NoError(t, err)

	txns, err := l.Transactions(acc.ID)
	require.NoError(t, err)

	running := decimal.Zero
	for _, txn := range txns {
		running = running.Add(txn.Amount)
		assert.True(t, running.Equal(txn.BalanceAfter), "running sum of signed amounts must equal balance_after")
	}
	got, _ := l.Account(acc.ID)
	assert.True(t, running.Equal(got.Cash))
}
