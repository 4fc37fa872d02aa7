package eventbus

import "sync/atomic"

// slot is one registration inside a dispatcher. The identifier, priority,
// callback, and one-shot flag are fixed at creation; only active changes
// over the slot's lifetime. A slot is shared (via pointer) between the
// dispatcher's own list and any in-flight delivery snapshot, so removing
// it from the list never invalidates a snapshot that is mid-iteration.
type slot struct {
	id       HandlerID
	priority Priority
	oneShot  bool
	seq      uint64 // insertion sequence, for diagnostics only; ordering itself comes from a stable sort
	fn       func(event any) error
	active   atomic.Bool
}

func newSlot(id HandlerID, priority Priority, seq uint64, oneShot bool, fn func(any) error) *slot {
	s := &slot{id: id, priority: priority, oneShot: oneShot, seq: seq, fn: fn}
	s.active.Store(true)
	return s
}

// claim attempts to take this slot for exactly one invocation. One-shot
// slots use a compare-and-swap so that, under any number of concurrent
// deliveries, at most one caller ever wins. Non-one-shot slots are simply
// read; a non-one-shot slot is never consumed by invocation, only by an
// explicit unsubscribe.
func (s *slot) claim() bool {
	if s.oneShot {
		return s.active.CompareAndSwap(true, false)
	}
	return s.active.Load()
}
