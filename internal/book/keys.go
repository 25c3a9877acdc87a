package book

import "fmt"

// Key layout mirrors spec.md §6's "Persisted state layout":
//   book:{venue}:{symbol}:bids|asks  -> sorted set of order ids
//   order:{id}                       -> hash of order fields

func bookKey(venue, symbol string, side string) string {
	return fmt.Sprintf("book:%s:%s:%s", venue, symbol, side)
}

func orderKey(id string) string {
	return "order:" + id
}
