package store

import (
	"path/filepath"
	"sync"

	"github.com/tidwall/btree"
)

type zentry struct {
	score  float64
	seq    uint64
	member string
}

func zentryLess(a, b zentry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.member < b.member
}

type zset struct {
	tree    *btree.BTreeG[zentry]
	byMember map[string]zentry
}

func newZSet() *zset {
	return &zset{
		tree:     btree.NewBTreeG(zentryLess),
		byMember: make(map[string]zentry),
	}
}

// MemStore is the in-process implementation of Store. All mutations on a
// given key are serialized by the per-key mutex from lockFor; reads take the same lock for a
// consistent snapshot, matching the "reads may be concurrent and may
// observe a consistent snapshot from any atomic boundary" rule of
// spec.md §5.
type MemStore struct {
	mu     sync.Mutex // guards the two top maps and keyLocks themselves
	zsets  map[string]*zset
	hashes map[string]map[string]string
	locks  map[string]*sync.Mutex

	subMu sync.Mutex
	subs  map[string][]*subscriber
}

type subscriber struct {
	ch     chan []byte
	closed bool
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		zsets:  make(map[string]*zset),
		hashes: make(map[string]map[string]string),
		locks:  make(map[string]*sync.Mutex),
		subs:   make(map[string][]*subscriber),
	}
}

func (s *MemStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemStore) ZAdd(key string, score float64, seq uint64, member string) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	zs, ok := s.zsets[key]
	if !ok {
		zs = newZSet()
		s.zsets[key] = zs
	}
	s.mu.Unlock()

	if old, ok := zs.byMember[member]; ok {
		zs.tree.Delete(old)
	}
	e := zentry{score: score, seq: seq, member: member}
	zs.tree.Set(e)
	zs.byMember[member] = e
}

func (s *MemStore) ZRange(key string, start, stop int, reverse bool) []string {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	zs, ok := s.zsets[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	all := make([]string, 0, zs.tree.Len())
	zs.tree.Scan(func(e zentry) bool {
		all = append(all, e.member)
		return true
	})

	n := len(all)
	start, stop = normalizeRange(start, stop, n)
	if start > stop || n == 0 {
		return nil
	}
	out := append([]string(nil), all[start:stop+1]...)
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func normalizeRange(start, stop, n int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (s *MemStore) ZRem(key, member string) bool {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	zs, ok := s.zsets[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	old, ok := zs.byMember[member]
	if !ok {
		return false
	}
	zs.tree.Delete(old)
	delete(zs.byMember, member)
	return true
}

func (s *MemStore) ZCard(key string) int {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	zs, ok := s.zsets[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return zs.tree.Len()
}

func (s *MemStore) HSet(key string, fields map[string]string) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.mu.Lock()
	s.hashes[key] = cp
	s.mu.Unlock()
}

func (s *MemStore) HGet(key string) (map[string]string, bool) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	h, ok := s.hashes[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	cp := make(map[string]string, len(h))
	for k, v := range h {
		cp[k] = v
	}
	return cp, true
}

func (s *MemStore) HDel(key string) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	delete(s.hashes, key)
	s.mu.Unlock()
}

func (s *MemStore) CAS(key string, fn func(current map[string]string, ok bool) (next map[string]string, commit bool)) bool {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	cur, ok := s.hashes[key]
	s.mu.Unlock()

	var curCopy map[string]string
	if ok {
		curCopy = make(map[string]string, len(cur))
		for k, v := range cur {
			curCopy[k] = v
		}
	}

	next, commit := fn(curCopy, ok)
	if !commit {
		return false
	}

	s.mu.Lock()
	if next == nil {
		delete(s.hashes, key)
	} else {
		s.hashes[key] = next
	}
	s.mu.Unlock()
	return true
}

func (s *MemStore) Publish(channel string, payload []byte) {
	s.subMu.Lock()
	subs := append([]*subscriber(nil), s.subs[channel]...)
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- payload:
		default:
			// Drop-oldest for a full queue: pop one then retry once. The
			// bus layer decides per-topic whether this is acceptable
			// (snapshots) or whether it hands Subscribe a queue large
			// enough that this path is never exercised (trades).
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- payload:
			default:
			}
		}
	}
}

func (s *MemStore) Subscribe(channel string, queueSize int) (<-chan []byte, func()) {
	if queueSize <= 0 {
		queueSize = 1
	}
	sub := &subscriber{ch: make(chan []byte, queueSize)}

	s.subMu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[channel]
		for i, sp := range list {
			if sp == sub {
				s.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (s *MemStore) Scan(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.hashes))
	for k := range s.hashes {
		if ok, _ := filepath.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out
}

func (s *MemStore) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	out := make([]string, 0, len(s.hashes)+len(s.zsets))
	for k := range s.hashes {
		if ok, _ := filepath.Match(pattern, k); ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range s.zsets {
		if ok, _ := filepath.Match(pattern, k); ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func (s *MemStore) Clear(pattern string) {
	for _, k := range s.Keys(pattern) {
		l := s.lockFor(k)
		l.Lock()
		s.mu.Lock()
		delete(s.hashes, k)
		delete(s.zsets, k)
		s.mu.Unlock()
		l.Unlock()
	}
}
