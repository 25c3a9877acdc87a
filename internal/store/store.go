// Package store implements the key-value abstraction of spec.md §4.A:
// ordered sets keyed by (symbol, side, venue), hash maps keyed by order id,
// and pub/sub channels, plus a scripted-atomic primitive. It is in-process
// today but is deliberately kept behind an interface so a later revision
// could swap in an external store (the teacher's own docs describe the
// source system as relying on exactly such an external store for its
// atomic scripting).
package store

// Store is the abstraction every other component talks to instead of
// touching maps or btrees directly. One in-memory implementation is
// provided (MemStore); it is the only implementation this revision ships.
type Store interface {
	// ZAdd inserts or updates member in the ordered set at key, ordered
	// ascending by (score, seq). Venues that want "best first" as a
	// descending price scan (bids) pass a negated score at the call site,
	// per spec.md §4.B.
	ZAdd(key string, score float64, seq uint64, member string)
	// ZRange returns members in ascending (score, seq) order over the
	// inclusive range [start, stop]; negative indices count from the end,
	// as in Redis. If reverse is true the result is returned reversed
	// (highest (score, seq) first) without changing the underlying order.
	ZRange(key string, start, stop int, reverse bool) []string
	// ZRem removes member from the ordered set. Returns whether it was
	// present.
	ZRem(key, member string) bool
	// ZCard returns the number of members in the ordered set at key.
	ZCard(key string) int

	// HSet stores a field record (a flat string map) under key, replacing
	// whatever was there.
	HSet(key string, fields map[string]string)
	// HGet retrieves the field record at key.
	HGet(key string) (map[string]string, bool)
	// HDel removes the field record at key.
	HDel(key string)

	// CAS is the scripted-atomic primitive spec.md §4.A requires: fn
	// observes the current field record (nil if absent) and returns the
	// record to replace it with plus whether to commit. No other CAS or
	// HSet/HDel on the same key can interleave with fn's execution.
	CAS(key string, fn func(current map[string]string, ok bool) (next map[string]string, commit bool)) bool

	// Publish fans payload out to all current subscribers of channel. It
	// never blocks on a slow subscriber; see Subscribe's queue semantics.
	Publish(channel string, payload []byte)
	// Subscribe registers a bounded queue for channel. cancel unsubscribes
	// and closes the queue; it is safe to call more than once. Subscribing
	// twice to the same channel registers two independent queues, each of
	// which receives every publish (de-duplication of logical subscriptions
	// is done per client by internal/session).
	Subscribe(channel string, queueSize int) (ch <-chan []byte, cancel func())

	// Scan returns all hash keys matching a "*"-glob pattern.
	Scan(pattern string) []string
	// Keys returns all known keys (hash and zset) matching a "*"-glob
	// pattern; used for administrative clear.
	Keys(pattern string) []string
	// Clear removes every key matching pattern, both hashes and zsets.
	Clear(pattern string)
}
