package eventbus

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// DispatchStats reports read-only delivery counters for one event type's
// dispatcher. Counters are updated with plain atomic adds inside deliver
// and deliverOne, so reading them never blocks or competes with handler
// execution.
type DispatchStats struct {
	Delivered     uint64 // handler invocations that returned, with or without an error or recovered panic
	OneShotMissed uint64 // one-shot claim attempts that lost to a concurrent winner or an earlier removal
	Active        int    // slots currently eligible for delivery
}

// dispatcher owns the ordered slot list for one event type and performs
// synchronous, priority-ordered delivery. It is safe for concurrent use
// from any number of goroutines, including goroutines that are themselves
// inside a handler invoked by this dispatcher.
type dispatcher struct {
	typ reflect.Type

	mu    sync.RWMutex
	slots []*slot
	seq   uint64

	inflight atomic.Int32 // number of deliver/deliverOne calls currently in progress

	delivered     atomic.Uint64
	oneShotMissed atomic.Uint64
}

func newDispatcher(typ reflect.Type) *dispatcher {
	return &dispatcher{typ: typ}
}

// add appends a new slot and re-establishes priority order with a stable
// sort, so slots of equal priority keep their relative subscription order
// across any number of future inserts.
func (d *dispatcher) add(id HandlerID, priority Priority, oneShot bool, fn func(any) error) *slot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	s := newSlot(id, priority, d.seq, oneShot, fn)
	d.slots = append(d.slots, s)
	sort.SliceStable(d.slots, func(i, j int) bool {
		return d.slots[i].priority > d.slots[j].priority
	})
	return s
}

// remove marks the slot with this id inactive and reports whether it did
// anything: false means no such slot exists, or it was already inactive
// (already unsubscribed, or a one-shot that already fired). When no
// delivery is currently in progress for this dispatcher, remove also
// physically excises every inactive slot so the at-rest invariant (no
// inactive entries) holds immediately; while a delivery is in progress,
// excision is deferred to that delivery's own cleanup step or to the
// janitor.
func (d *dispatcher) remove(id HandlerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	var target *slot
	for _, s := range d.slots {
		if s.id == id {
			target = s
			break
		}
	}
	if target == nil {
		return false
	}
	if !target.active.CompareAndSwap(true, false) {
		return false
	}

	if d.inflight.Load() == 0 {
		d.excise()
	}
	return true
}

// excise drops inactive slots from the list. Callers must hold d.mu for
// writing.
func (d *dispatcher) excise() {
	kept := d.slots[:0]
	for _, s := range d.slots {
		if s.active.Load() {
			kept = append(kept, s)
		}
	}
	d.slots = kept
}

// compact is the janitor's entry point: it excises inactive slots left
// behind by an unsubscribe that happened while a delivery was in flight,
// but only when no delivery is in flight right now. It never invokes a
// handler and never changes which slots are active.
func (d *dispatcher) compact() {
	if d.inflight.Load() != 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight.Load() != 0 {
		return
	}
	d.excise()
}

// snapshot takes a shared-ownership copy of the current slot sequence
// under a shared lock, so iteration is immune to concurrent structural
// changes to the dispatcher's own list; removals during iteration are
// still honored through each slot's active flag.
func (d *dispatcher) snapshot() []*slot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*slot, len(d.slots))
	copy(out, d.slots)
	return out
}

// deliver invokes every currently active slot, in priority order, with
// event. It returns the first error (or recovered panic, see
// Config.RecoverPanics) raised by a handler; slots not yet visited at
// that point are not invoked. A one-shot claim made during this call is
// always finalized with an excision, even when a handler errors.
func (d *dispatcher) deliver(event any, recoverPanics bool) error {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	slots := d.snapshot()

	claimedOneShot := false
	defer func() {
		if claimedOneShot {
			d.mu.Lock()
			d.excise()
			d.mu.Unlock()
		}
	}()

	for _, s := range slots {
		if s.oneShot {
			if !s.claim() {
				d.oneShotMissed.Add(1)
				continue
			}
			claimedOneShot = true
		} else if !s.claim() {
			continue
		}

		if err := invoke(s, event, recoverPanics); err != nil {
			d.delivered.Add(1)
			return err
		}
		d.delivered.Add(1)
	}
	return nil
}

// deliverOne invokes exactly the slot identified by id, applying the same
// one-shot claim protocol as deliver. It is used by the bus to run a
// just-subscribed handler against the event of an in-flight delivery, and
// reports whether the slot existed and was eligible to run.
func (d *dispatcher) deliverOne(id HandlerID, event any, recoverPanics bool) (ran bool, err error) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	d.mu.RLock()
	var target *slot
	for _, s := range d.slots {
		if s.id == id {
			target = s
			break
		}
	}
	d.mu.RUnlock()

	if target == nil {
		return false, nil
	}

	if target.oneShot {
		if !target.claim() {
			d.oneShotMissed.Add(1)
			return false, nil
		}
		defer func() {
			d.mu.Lock()
			d.excise()
			d.mu.Unlock()
		}()
	} else if !target.claim() {
		return false, nil
	}

	err = invoke(target, event, recoverPanics)
	d.delivered.Add(1)
	return true, err
}

// activeCount returns the number of slots currently eligible for
// delivery: not removed, and (for one-shot slots) not yet fired.
func (d *dispatcher) activeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, s := range d.slots {
		if s.active.Load() {
			n++
		}
	}
	return n
}

func (d *dispatcher) stats() DispatchStats {
	return DispatchStats{
		Delivered:     d.delivered.Load(),
		OneShotMissed: d.oneShotMissed.Load(),
		Active:        d.activeCount(),
	}
}

// invoke runs a single slot's callback, optionally converting a panic into
// an error. Locks are never held across this call.
func invoke(s *slot, event any, recoverPanics bool) (err error) {
	if recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				err = &HandlerError{HandlerID: s.id, EventType: reflect.TypeOf(event).String(), Panic: true, Err: panicError{r}}
			}
		}()
	}
	if hErr := s.fn(event); hErr != nil {
		return &HandlerError{HandlerID: s.id, EventType: reflect.TypeOf(event).String(), Err: hErr}
	}
	return nil
}

type panicError struct{ v any }

func (p panicError) Error() string {
	if err, ok := p.v.(error); ok {
		return err.Error()
	}
	return "panic: " + formatPanic(p.v)
}

func formatPanic(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if st, ok := v.(interface{ String() string }); ok {
		return st.String()
	}
	return "non-string panic value"
}
