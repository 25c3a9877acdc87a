package bus_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/tomb.v2"

	"oes/internal/bus"
	"oes/internal/model"
	"oes/internal/store"
)

type fakeBooks struct{}

func (fakeBooks) Depth(symbol string, venue model.Venue, n int) ([]model.PriceLevelView, []model.PriceLevelView) {
	return []model.PriceLevelView{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(5), Orders: 1}}, nil
}

func TestSubscribeUnsubscribeIsIdempotentPerQueue(t *testing.T) {
	b := bus.New(store.NewMemStore(), fakeBooks{}, time.Hour, time.Hour)

	ch, cancel := b.Subscribe(bus.OrderbookTopic("AAPL"))
	b.PublishOrderbook("AAPL", nil, nil)

	select {
	case msg := <-ch:
		var env map[string]any
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, bus.TypeOrderbook, env["type"])
		assert.Equal(t, "AAPL", env["symbol"])
	case <-time.After(time.Second):
		t.Fatal("expected an orderbook envelope")
	}

	cancel()
	cancel() // must not panic
}

func TestTradeTopicNeverDropsUnderBurst(t *testing.T) {
	b := bus.New(store.NewMemStore(), fakeBooks{}, time.Hour, time.Hour)
	ch, cancel := b.Subscribe(bus.TradesTopic("AAPL"))
	defer cancel()

	const n = 500
	for i := 0; i < n; i++ {
		b.PublishTrade(model.Trade{ID: "t", Symbol: "AAPL", Price: decimal.NewFromInt(int64(i))})
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < n {
		select {
		case <-ch:
			received++
		case <-timeout:
			t.Fatalf("only received %d/%d trade messages, some were dropped", received, n)
		}
	}
}

func TestNotificationsCarryOrdersUpdatedEnvelope(t *testing.T) {
	b := bus.New(store.NewMemStore(), fakeBooks{}, time.Hour, time.Hour)
	ch, cancel := b.Subscribe(bus.NotificationsTopic)
	defer cancel()

	o := &model.Order{ID: "o1", Status: model.StatusFilled}
	b.PublishOrdersUpdated(o)

	select {
	case msg := <-ch:
		var env map[string]any
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, bus.TypeOrdersUpdated, env["type"])
	case <-time.After(time.Second):
		t.Fatal("expected an orders_updated envelope")
	}
}

func TestSnapshotLoopBroadcastsSubscribedSymbol(t *testing.T) {
	b := bus.New(store.NewMemStore(), fakeBooks{}, 20*time.Millisecond, time.Hour)
	ch, cancel := b.Subscribe(bus.OrderbookTopic("AAPL"))
	defer cancel()

	var t2 tomb.Tomb
	b.Run(&t2)
	defer t2.Kill(nil)

	select {
	case msg := <-ch:
		var env map[string]any
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, "AAPL", env["symbol"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected a periodic snapshot broadcast")
	}
}
