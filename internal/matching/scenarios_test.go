package matching_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oes/internal/model"
)

// TestScenarioSimpleCross is spec.md §8 scenario 1.
func TestScenarioSimpleCross(t *testing.T) {
	e, l := newTestEngine()
	a, err := l.CreateAccount("A", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)
	b, err := l.CreateAccount("B", d(1000), model.Standard, model.RiskLow)
	require.NoError(t, err)
	seedSeller, err2 := l.CreateAccount("seed-seller", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err2)

	// Seed B with a 10 AAPL @ 100 position by buying it from a
	// risk=high account willing to short; the fill happens at exactly
	// the reserved rate so B's cash nets back to zero before the real
	// scenario begins.
	seedBuy := limitOrder(b.ID, "AAPL", model.Buy, 100, 10, model.Lit, model.GTC)
	_, _, err = e.Submit(seedBuy)
	require.NoError(t, err)
	seedSell := limitOrder(seedSeller.ID, "AAPL", model.Sell, 100, 10, model.Lit, model.GTC)
	_, _, err = e.Submit(seedSell)
	require.NoError(t, err)

	aOrder := limitOrder(a.ID, "AAPL", model.Buy, 150, 5, model.Lit, model.Day)
	bOrder := limitOrder(b.ID, "AAPL", model.Sell, 140, 5, model.Lit, model.Day)

	_, _, err = e.Submit(aOrder)
	require.NoError(t, err)
	_, trades, err := e.Submit(bOrder)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d(150)), "resting order's price wins (price-maker priority)")
	assert.True(t, trades[0].Quantity.Equal(d(5)))

	accA, _ := l.Account(a.ID)
	assert.True(t, accA.Cash.Equal(d(10000-750)))
	posA, _ := l.Position(a.ID, "AAPL")
	assert.True(t, posA.Quantity.Equal(d(5)))
	assert.True(t, posA.VWAP.Equal(d(150)))

	accB, _ := l.Account(b.ID)
	assert.True(t, accB.Cash.Equal(d(750)))
	posB, _ := l.Position(b.ID, "AAPL")
	assert.True(t, posB.Quantity.Equal(d(5)), "B started with 10, sold 5")
	assert.True(t, posB.VWAP.Equal(d(100)), "reducing a position must not move its vwap")
}

// TestScenarioDarkPreference is spec.md §8 scenario 2.
func TestScenarioDarkPreference(t *testing.T) {
	e, l := newTestEngine()
	x, err := l.CreateAccount("X", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	y, err := l.CreateAccount("Y", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	buyer, err := l.CreateAccount("buyer", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	litSell := limitOrder(x.ID, "AAPL", model.Sell, 100, 5, model.Lit, model.GTC)
	darkSell := limitOrder(y.ID, "AAPL", model.Sell, 100, 5, model.Dark, model.GTC)
	_, _, err = e.Submit(litSell)
	require.NoError(t, err)
	_, _, err = e.Submit(darkSell)
	require.NoError(t, err)

	incoming := limitOrder(buyer.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.Day)
	_, trades, err := e.Submit(incoming)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, y.ID, trades[0].SellAccountID, "dark liquidity must be matched first")
	assert.Equal(t, model.Dark, trades[0].Venue)

	// The lit order must be untouched.
	litRec, ok := e.Book.Get(litSell.ID)
	require.True(t, ok)
	assert.True(t, litRec.Remaining.Equal(d(5)))
}

// TestScenarioPartialFillThenRest is spec.md §8 scenario 3.
func TestScenarioPartialFillThenRest(t *testing.T) {
	e, l := newTestEngine()
	seller, err := l.CreateAccount("seller", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	buyer, err := l.CreateAccount("buyer", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	resting := limitOrder(seller.ID, "AAPL", model.Sell, 100, 3, model.Lit, model.GTC)
	_, _, err = e.Submit(resting)
	require.NoError(t, err)

	incoming := limitOrder(buyer.ID, "AAPL", model.Buy, 100, 10, model.Lit, model.Day)
	updated, trades, err := e.Submit(incoming)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.True(t, trades[0].Quantity.Equal(d(3)))
	assert.Equal(t, model.StatusPartiallyFilled, updated.Status)
	assert.True(t, updated.Remaining.Equal(d(7)))

	rec, ok := e.Book.Get(updated.ID)
	require.True(t, ok)
	assert.True(t, rec.Status.InBook())
}

// TestScenarioIOCCancelsRemainder is spec.md §8 scenario 4.
func TestScenarioIOCCancelsRemainder(t *testing.T) {
	e, l := newTestEngine()
	seller, err := l.CreateAccount("seller", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	buyer, err := l.CreateAccount("buyer", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	resting := limitOrder(seller.ID, "AAPL", model.Sell, 100, 3, model.Lit, model.GTC)
	_, _, err = e.Submit(resting)
	require.NoError(t, err)

	incoming := limitOrder(buyer.ID, "AAPL", model.Buy, 100, 10, model.Lit, model.IOC)
	updated, trades, err := e.Submit(incoming)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.True(t, trades[0].Quantity.Equal(d(3)))
	assert.Equal(t, model.StatusCancelled, updated.Status)
	assert.True(t, updated.Remaining.Equal(d(7)))

	_, ok := e.Book.Get(updated.ID)
	assert.False(t, ok, "a cancelled IOC order must not rest")
}

// TestScenarioFOKRejectsWhenUnfillable is spec.md §8 scenario 5.
func TestScenarioFOKRejectsWhenUnfillable(t *testing.T) {
	e, l := newTestEngine()
	seller, err := l.CreateAccount("seller", d(0), model.Standard, model.RiskHigh)
	require.NoError(t, err)
	buyer, err := l.CreateAccount("buyer", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	resting := limitOrder(seller.ID, "AAPL", model.Sell, 100, 3, model.Lit, model.GTC)
	_, _, err = e.Submit(resting)
	require.NoError(t, err)

	incoming := limitOrder(buyer.ID, "AAPL", model.Buy, 100, 10, model.Lit, model.FOK)
	updated, trades, err := e.Submit(incoming)

	assert.ErrorIs(t, err, model.ErrNotFillable)
	assert.Empty(t, trades)
	assert.Equal(t, model.StatusRejected, updated.Status)

	restingRec, ok := e.Book.Get(resting.ID)
	require.True(t, ok)
	assert.True(t, restingRec.Remaining.Equal(d(3)), "the untouched resting sell must be unaffected")
}

// TestScenarioAmendLosesPriorityOnPriceChange is spec.md §8 scenario 6.
func TestScenarioAmendLosesPriorityOnPriceChange(t *testing.T) {
	e, l := newTestEngine()
	acctA, err := l.CreateAccount("A", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)
	acctB, err := l.CreateAccount("B", d(10000), model.Standard, model.RiskLow)
	require.NoError(t, err)

	a := limitOrder(acctA.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.GTC)
	_, _, err = e.Submit(a)
	require.NoError(t, err)
	b := limitOrder(acctB.ID, "AAPL", model.Buy, 100, 5, model.Lit, model.GTC)
	_, _, err = e.Submit(b)
	require.NoError(t, err)

	same := d(100)
	_, err = e.Amend(a.ID, &same, nil)
	require.NoError(t, err)
	best, ok := e.Book.PeekBest("AAPL", model.Buy, model.Lit)
	require.True(t, ok)
	assert.Equal(t, a.ID, best.ID, "a no-op price write must not forfeit priority")

	newPrice := d(101)
	_, err = e.Amend(a.ID, &newPrice, nil)
	require.NoError(t, err)
	backToOld := d(100)
	_, err = e.Amend(a.ID, &backToOld, nil)
	require.NoError(t, err)

	best, ok = e.Book.PeekBest("AAPL", model.Buy, model.Lit)
	require.True(t, ok)
	assert.Equal(t, b.ID, best.ID, "A must now be behind B after forfeiting and returning to 100")
}
