package bus

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Message types, spec.md §4.E: {type, timestamp, ...payload}.
const (
	TypeOrderbook     = "orderbook"
	TypeTrade         = "trade"
	TypeTradeExecuted = "trade_executed"
	TypeOrdersUpdated = "orders_updated"
	TypeLatency       = "latency"
	TypeToast         = "toast"
	TypeError         = "error"
)

// encode flattens payload alongside type and timestamp into one JSON
// object, matching spec.md §4.E's envelope shape exactly.
func encode(msgType string, payload map[string]any) []byte {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["type"] = msgType
	out["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to encode bus envelope")
		return nil
	}
	return b
}
