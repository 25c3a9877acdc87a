package matching_test

import (
	"time"

	"github.com/shopspring/decimal"

	"oes/internal/book"
	"oes/internal/bus"
	"oes/internal/ledger"
	"oes/internal/matching"
	"oes/internal/model"
	"oes/internal/store"
)

type stubBooks struct{ b *book.Book }

func (s stubBooks) Depth(symbol string, venue model.Venue, n int) ([]model.PriceLevelView, []model.PriceLevelView) {
	return s.b.Depth(symbol, venue, n)
}

func newTestEngine() (*matching.Engine, *ledger.Ledger) {
	s := store.NewMemStore()
	b := book.New(s)
	l := ledger.New()
	evt := bus.New(s, stubBooks{b}, time.Hour, time.Hour)
	return matching.New(b, l, evt, 100*time.Millisecond), l
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func limitOrder(accountID, symbol string, side model.Side, price, qty float64, venue model.Venue, tif model.TIF) *model.Order {
	return &model.Order{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Type:      model.LimitOrder,
		Price:     d(price),
		HasPrice:  true,
		Original:  d(qty),
		Venue:     venue,
		TIF:       tif,
	}
}
