package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	ID int
}

func TestSubscribePublishBasic(t *testing.T) {
	b := New()
	var got orderPlaced
	_, err := Subscribe[orderPlaced](b, Normal, func(e orderPlaced) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(b, orderPlaced{ID: 7}))
	assert.Equal(t, 7, got.ID)
}

func TestHandlerIDsAreMonotonicAndNeverZero(t *testing.T) {
	b := New()
	id1, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)
	id2, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)

	assert.NotZero(t, id1)
	assert.Greater(t, id2, id1)
}

func TestUnsubscribeUnknownIDIsSilentNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Unsubscribe(99999) })
}

func TestSubscribeUnsubscribeRoundTripRestoresCount(t *testing.T) {
	b := New()
	before := HandlerCount[orderPlaced](b)
	id, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, before+1, HandlerCount[orderPlaced](b))

	b.Unsubscribe(id)
	assert.Equal(t, before, HandlerCount[orderPlaced](b))
}

func TestDoubleUnsubscribeIsNoop(t *testing.T) {
	b := New()
	id, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)

	b.Unsubscribe(id)
	assert.Equal(t, 0, HandlerCount[orderPlaced](b))
	assert.NotPanics(t, func() { b.Unsubscribe(id) })
}

func TestPublishWithZeroSubscribersIsFine(t *testing.T) {
	b := New()
	assert.NoError(t, Publish(b, orderPlaced{ID: 1}))
}

func TestPublishFromWithinHandlerUsesFreshSnapshot(t *testing.T) {
	b := New()
	var inner bool
	_, err := Subscribe[orderPlaced](b, Normal, func(e orderPlaced) error {
		if e.ID == 1 {
			inner = true
			return Publish(b, orderPlaced{ID: 2})
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(b, orderPlaced{ID: 1}))
	assert.True(t, inner)
}

func TestScopedRegistrationCloseEquivalentToUnsubscribe(t *testing.T) {
	b := New()
	id, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)

	reg := NewRegistration(b, id)
	assert.Equal(t, 1, HandlerCount[orderPlaced](b))

	require.NoError(t, reg.Close())
	assert.Equal(t, 0, HandlerCount[orderPlaced](b))

	require.NoError(t, reg.Close(), "second Close must be a no-op")
}

func TestRegistrationReleaseDetachesWithoutUnsubscribing(t *testing.T) {
	b := New()
	id, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)

	reg := NewRegistration(b, id)
	released := reg.Release()
	assert.Equal(t, id, released)

	require.NoError(t, reg.Close())
	assert.Equal(t, 1, HandlerCount[orderPlaced](b), "Close after Release must not unsubscribe")

	b.Unsubscribe(id)
	assert.Equal(t, 0, HandlerCount[orderPlaced](b))
}

func TestHandlerCountUnknownEventTypeIsZero(t *testing.T) {
	b := New()
	assert.Equal(t, 0, HandlerCount[orderPlaced](b))
}

func TestPublishPropagatesHandlerError(t *testing.T) {
	b := New()
	sentinel := errors.New("handler exploded")
	_, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return sentinel })
	require.NoError(t, err)

	pubErr := Publish(b, orderPlaced{})
	require.Error(t, pubErr)
	assert.ErrorIs(t, pubErr, sentinel)
}

func TestBusRemainsUsableAfterHandlerError(t *testing.T) {
	b := New()
	b.SetConfig(Config{RecoverPanics: true, AuditVerbosity: AuditNone})
	sentinel := errors.New("boom")
	calls := 0
	_, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error {
		calls++
		if calls == 1 {
			return sentinel
		}
		return nil
	})
	require.NoError(t, err)

	require.Error(t, Publish(b, orderPlaced{}))
	require.NoError(t, Publish(b, orderPlaced{}))
	assert.Equal(t, 2, calls)
}

func TestEventTypesListsTouchedTypes(t *testing.T) {
	b := New()
	_, err := Subscribe[orderPlaced](b, Normal, func(orderPlaced) error { return nil })
	require.NoError(t, err)

	types := b.EventTypes()
	require.Len(t, types, 1)
	assert.Equal(t, "eventbus.orderPlaced", types[0].String())
}
