// Package gls provides a goroutine-local stack, the closest Go analogue to
// the thread-local stacks the dispatch engine needs to track which outer
// publish a subscribe/unsubscribe call is nested inside.
package gls

import (
	"sync"

	"github.com/petermattis/goid"
)

// Stack is a LIFO sequence of values scoped to the calling goroutine. Each
// goroutine sees only the frames it pushed; concurrent goroutines never
// observe each other's stacks.
type Stack[T any] struct {
	mu    sync.Mutex
	stack map[int64][]T
}

// New creates an empty goroutine-local stack.
func New[T any]() *Stack[T] {
	return &Stack[T]{stack: make(map[int64][]T)}
}

// Push appends v to the current goroutine's stack and returns a function
// that pops it. The caller must defer the returned function so the frame
// is removed on every exit path, including a panicking handler.
func (s *Stack[T]) Push(v T) (pop func()) {
	gid := goid.Get()

	s.mu.Lock()
	s.stack[gid] = append(s.stack[gid], v)
	s.mu.Unlock()

	popped := false
	return func() {
		if popped {
			return
		}
		popped = true

		s.mu.Lock()
		defer s.mu.Unlock()

		frames := s.stack[gid]
		if len(frames) == 0 {
			return
		}
		frames = frames[:len(frames)-1]
		if len(frames) == 0 {
			delete(s.stack, gid)
		} else {
			s.stack[gid] = frames
		}
	}
}

// FindTop scans the current goroutine's stack from the most recently
// pushed frame downward and returns the first frame for which match
// reports true. This realizes the "innermost matching frame" rule: when a
// goroutine is nested inside several publishes of the same event type,
// only the closest one is returned.
func (s *Stack[T]) FindTop(match func(T) bool) (T, bool) {
	gid := goid.Get()

	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.stack[gid]
	for i := len(frames) - 1; i >= 0; i-- {
		if match(frames[i]) {
			return frames[i], true
		}
	}
	var zero T
	return zero, false
}

// Depth returns the number of frames the current goroutine has pushed.
// Exposed mainly for tests asserting that frames are popped on every exit
// path.
func (s *Stack[T]) Depth() int {
	gid := goid.Get()
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack[gid])
}
