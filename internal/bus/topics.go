package bus

import "strings"

// Topic name helpers — spec.md §4.E's keyspace, colon-separated (§6).
const (
	NotificationsTopic = "notifications"
	SystemTopic        = "system"

	orderbookPrefix = "orderbook:"
	tradesPrefix    = "trades:"
)

// OrderbookTopic is the per-symbol order-book snapshot/delta topic.
func OrderbookTopic(symbol string) string { return orderbookPrefix + symbol }

// TradesTopic is the per-symbol trade-execution topic.
func TradesTopic(symbol string) string { return tradesPrefix + symbol }

// symbolOf extracts the symbol from an orderbook: or trades: topic, or ""
// if topic doesn't carry one.
func symbolOf(topic string) (symbol string, ok bool) {
	if s, found := strings.CutPrefix(topic, orderbookPrefix); found {
		return s, true
	}
	if s, found := strings.CutPrefix(topic, tradesPrefix); found {
		return s, true
	}
	return "", false
}

func isTradesTopic(topic string) bool {
	return strings.HasPrefix(topic, tradesPrefix)
}

func isOrderbookTopic(topic string) bool {
	return strings.HasPrefix(topic, orderbookPrefix)
}
