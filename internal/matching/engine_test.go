package matching_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oes/internal/model"
)

func TestSubmitRejectsValidationErrors(t *testing.T) {
	e, _ := newTestEngine()
	bad := &model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.LimitOrder, Original: d(5)}
	updated, trades, err := e.Submit(bad)
	require.Error(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, model.StatusRejected, updated.Status)
}

func TestSubmitRejectsInsufficientFunds(t *testing.T) {
	e, l := newTestEngine()
	poor, err := l.CreateAccount("poor", d(10), model.Standard, model.RiskLow)
	require.NoError(t, err)

	o := limitOrder(poor.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.Day)
	updated, _, err := e.Submit(o)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, model.StatusRejected, updated.Status)
}

func TestSubmitRejectsShortSellUnlessRiskHigh(t *testing.T) {
	e, l := newTestEngine()
	retail, err := l.CreateAccount("retail", d(0), model.Standard, model.RiskLow)
	require.NoError(t, err)

	o := limitOrder(retail.ID, "AAPL", model.Sell, 100, 5, model.Lit, model.Day)
	_, _, err = e.Submit(o)
	assert.ErrorIs(t, err, model.ErrInsufficientPosn)
}

func TestCancelReleasesReservation(t *testing.T) {
	e, l := newTestEngine()
	acc, err := l.CreateAccount("acct", d(1000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	o := limitOrder(acc.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.GTC)
	updated, _, err := e.Submit(o)
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, updated.Status)

	got, _ := l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(500)))

	already, err := e.Cancel(updated.ID)
	require.NoError(t, err)
	assert.False(t, already)

	got, _ = l.Account(acc.ID)
	assert.True(t, got.Cash.Equal(d(1000)), "cancelling must release the full unused reservation")

	_, ok := e.Book.Get(updated.ID)
	assert.True(t, ok)
	rec, _ := e.Book.Get(updated.ID)
	assert.Equal(t, model.StatusCancelled, rec.Status)
}

func TestCancelUnknownOrderFails(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.Cancel("nonexistent")
	assert.ErrorIs(t, err, model.ErrUnknownOrder)
}

func TestTickRecoversMissedCross(t *testing.T) {
	// Two resting orders that happen to cross (as if inserted directly
	// via an admin book reload, bypassing Submit's own matching) should
	// be crossed by the next periodic Tick.
	e, l := newTestEngine()
	seller, err := l.CreateAccount("seller", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	buyer, err := l.CreateAccount("buyer", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	sell := limitOrder(seller.ID, "AAPL", model.Sell, 95, 5, model.Lit, model.GTC)
	sell.ID, sell.Remaining = "tick-sell", sell.Original
	require.NoError(t, e.Book.Insert(sell))
	buy := limitOrder(buyer.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.GTC)
	buy.ID, buy.Remaining = "tick-buy", buy.Original
	require.NoError(t, e.Book.Insert(buy))

	e.Tick()

	rec, ok := e.Book.Get(sell.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusFilled, rec.Status, "tick must cross and fill the resting sell")
	assert.Empty(t, e.Book.RestingOrderIDs("AAPL", model.Sell, model.Lit), "the filled sell must leave the book")
}

func TestSweepDayOrdersCancelsOnlyDayTIF(t *testing.T) {
	e, l := newTestEngine()
	acc, err := l.CreateAccount("acct", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	day := limitOrder(acc.ID, "AAPL", model.Buy, 90, 1, model.Lit, model.Day)
	_, _, err = e.Submit(day)
	require.NoError(t, err)
	gtc := limitOrder(acc.ID, "AAPL", model.Buy, 91, 1, model.Lit, model.GTC)
	_, _, err = e.Submit(gtc)
	require.NoError(t, err)

	n := e.SweepDayOrders()
	assert.Equal(t, 1, n)

	dayRec, ok := e.Book.Get(day.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCancelled, dayRec.Status)
	rec, ok := e.Book.Get(gtc.ID)
	require.True(t, ok)
	assert.True(t, rec.Status.InBook())
}
