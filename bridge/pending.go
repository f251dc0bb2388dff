package bridge

import (
	"encoding/json"
	"sync"
)

// Result is the settled outcome delivered to a waiting caller.
type Result struct {
	Data json.RawMessage
	Err  error
}

// Slot is a single-use reply slot a caller blocks on. The channel is
// buffered so a fulfiller never blocks on a caller that already left.
type Slot struct {
	ch chan Result
}

// Wait exposes the settled result channel. It fires at most once.
func (s *Slot) Wait() <-chan Result { return s.ch }

// pendingTable is the correlation table shared by the event bridge's
// concurrent callers. One mutex guards one map; a slot is removed in
// the same critical section that settles it, so fulfill racing expire
// can never double-settle a waiter.
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]*Slot)}
}

// register creates the slot for key. Returns false if the key is
// already in flight; a correlation key is never reused while pending.
func (t *pendingTable) register(key string) (*Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.slots[key]; exists {
		return nil, false
	}
	slot := &Slot{ch: make(chan Result, 1)}
	t.slots[key] = slot
	return slot, true
}

// fulfill settles and removes the slot for key. Returns false when no
// slot exists, which covers both stale replies and lost races against
// expire.
func (t *pendingTable) fulfill(key string, res Result) bool {
	t.mu.Lock()
	slot, ok := t.slots[key]
	if ok {
		delete(t.slots, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	slot.ch <- res
	return true
}

// expire removes the slot for key without settling it. Used by the
// timeout and cancellation paths, whose callers are already leaving.
func (t *pendingTable) expire(key string) {
	t.mu.Lock()
	delete(t.slots, key)
	t.mu.Unlock()
}

// size reports the number of in-flight slots. Used by tests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
