package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests mirror the six concrete scenarios in the package's design
// spec section on testable properties, one function per scenario.

type tick struct{ Depth int }

func TestScenarioPriorityOrdering(t *testing.T) {
	b := New()
	var order []string
	record := func(label string) Handler[tick] {
		return func(tick) error { order = append(order, label); return nil }
	}

	_, err := Subscribe(b, Low, record("L1"))
	require.NoError(t, err)
	_, err = Subscribe(b, High, record("H1"))
	require.NoError(t, err)
	_, err = Subscribe(b, Normal, record("N1"))
	require.NoError(t, err)
	_, err = Subscribe(b, High, record("H2"))
	require.NoError(t, err)
	_, err = Subscribe(b, Normal, record("N2"))
	require.NoError(t, err)
	_, err = Subscribe(b, Low, record("L2"))
	require.NoError(t, err)

	require.NoError(t, Publish(b, tick{}))

	highEnd := 2
	normalEnd := 4
	for i := 0; i < highEnd; i++ {
		assert.Contains(t, []string{"H1", "H2"}, order[i])
	}
	for i := highEnd; i < normalEnd; i++ {
		assert.Contains(t, []string{"N1", "N2"}, order[i])
	}
	for i := normalEnd; i < len(order); i++ {
		assert.Contains(t, []string{"L1", "L2"}, order[i])
	}
}

func TestScenarioOneShotExactlyOnceUnderContention(t *testing.T) {
	b := New()
	var counter atomic.Int64
	_, err := SubscribeOnce(b, Normal, func(tick) error {
		counter.Add(1)
		return nil
	})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = Publish(b, tick{})
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), counter.Load())
	assert.Equal(t, 0, HandlerCount[tick](b))
}

func TestScenarioSubscribeDuringDispatchSeesCurrentEvent(t *testing.T) {
	b := New()
	var order []string
	_, err := Subscribe(b, High, func(tick) error {
		order = append(order, "A")
		_, subErr := Subscribe(b, Low, func(tick) error {
			order = append(order, "B")
			return nil
		})
		return subErr
	})
	require.NoError(t, err)

	require.NoError(t, Publish(b, tick{}))
	assert.Equal(t, []string{"A", "B"}, order)

	// And it is also picked up by a later publish, as an ordinary handler.
	// A subscribes a second B during this publish, which runs right away;
	// the first B then runs from the snapshot.
	order = nil
	require.NoError(t, Publish(b, tick{}))
	assert.Equal(t, []string{"A", "B", "B"}, order)
}

func TestScenarioUnsubscribeOtherDuringDispatchSuppressesTarget(t *testing.T) {
	b := New()
	var order []string
	idB, err := Subscribe(b, Low, func(tick) error {
		order = append(order, "B")
		return nil
	})
	require.NoError(t, err)

	_, err = Subscribe(b, High, func(tick) error {
		order = append(order, "A")
		b.Unsubscribe(idB)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(b, tick{}))
	assert.Equal(t, []string{"A"}, order)
	assert.Equal(t, 1, HandlerCount[tick](b))
}

func TestScenarioRecursivePublishTerminates(t *testing.T) {
	b := New()
	var count int
	_, err := Subscribe(b, Normal, func(e tick) error {
		count++
		if e.Depth < 3 {
			return Publish(b, tick{Depth: e.Depth + 1})
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(b, tick{Depth: 0}))
	assert.Equal(t, 4, count, "handler runs once at each of depths 0,1,2,3 before the guard stops recursion")
}

func TestScenarioExceptionLeavesSystemUsableAndOneShotConsumed(t *testing.T) {
	b := New()
	b.SetConfig(Config{RecoverPanics: true, AuditVerbosity: AuditNone})

	var oneShotCount, normalCount atomic.Int64
	_, err := SubscribeOnce(b, Normal, func(tick) error {
		oneShotCount.Add(1)
		return assert.AnError
	})
	require.NoError(t, err)
	_, err = Subscribe(b, Low, func(tick) error {
		normalCount.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.Error(t, Publish(b, tick{}))
	assert.Equal(t, int64(1), oneShotCount.Load())
	assert.Equal(t, int64(0), normalCount.Load(), "normal handler must not run: higher-priority error aborted iteration")

	require.NoError(t, Publish(b, tick{}))
	assert.Equal(t, int64(1), oneShotCount.Load(), "one-shot must not fire again")
	assert.Equal(t, int64(1), normalCount.Load())
}
