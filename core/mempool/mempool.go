package mempool

import (
	"sync"
	"time"

	"srishti/core/event"
)

// Mempool holds events waiting for block inclusion, keyed by canonical event
// hash for deduplication, with FIFO eviction at capacity.
type Mempool struct {
	mu       sync.Mutex
	events   map[string]event.Event
	order    []string
	maxTxs   int
	received map[string]int64 // hash -> arrival millis, for expiry
}

// NewMempool creates a pool bounded at maxTxs events.
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{
		events:   map[string]event.Event{},
		order:    []string{},
		maxTxs:   maxTxs,
		received: map[string]int64{},
	}
}

// Add inserts an event; false on duplicate or hashing failure. At capacity
// the oldest event is evicted.
func (mp *Mempool) Add(ev event.Event) bool {
	hash, err := ev.Hash()
	if err != nil {
		return false
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if _, exists := mp.events[hash]; exists {
		return false
	}
	if len(mp.events) >= mp.maxTxs {
		oldest := mp.order[0]
		mp.order = mp.order[1:]
		delete(mp.events, oldest)
		delete(mp.received, oldest)
	}
	mp.events[hash] = ev
	mp.order = append(mp.order, hash)
	mp.received[hash] = time.Now().UnixMilli()
	return true
}

// Take removes and returns up to max events in arrival order, for bundling
// into a block body.
func (mp *Mempool) Take(max int) []event.Event {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	n := max
	if n > len(mp.order) {
		n = len(mp.order)
	}
	out := make([]event.Event, 0, n)
	for _, hash := range mp.order[:n] {
		out = append(out, mp.events[hash])
		delete(mp.events, hash)
		delete(mp.received, hash)
	}
	mp.order = mp.order[n:]
	return out
}

// Remove drops the events matching the given hashes (after seeing them in an
// accepted block from a peer).
func (mp *Mempool) Remove(hashes []string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	drop := map[string]bool{}
	for _, h := range hashes {
		drop[h] = true
	}
	kept := mp.order[:0]
	for _, h := range mp.order {
		if drop[h] {
			delete(mp.events, h)
			delete(mp.received, h)
			continue
		}
		kept = append(kept, h)
	}
	mp.order = kept
}

// Len returns the number of pending events.
func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.events)
}

// PurgeExpired drops events older than maxAge.
func (mp *Mempool) PurgeExpired(maxAge time.Duration) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	cutoff := time.Now().UnixMilli() - maxAge.Milliseconds()
	removed := 0
	kept := mp.order[:0]
	for _, h := range mp.order {
		if mp.received[h] < cutoff {
			delete(mp.events, h)
			delete(mp.received, h)
			removed++
			continue
		}
		kept = append(kept, h)
	}
	mp.order = kept
	return removed
}
