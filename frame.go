package eventbus

import (
	"reflect"

	"github.com/dispatchkit/eventbus/internal/gls"
)

// dispatchFrame records "this goroutine is currently delivering event typ
// on bus via dispatcher d" for the duration of one Publish call. It lives
// on a goroutine-local stack (see internal/gls) so a subscribe nested
// inside a handler can find the in-flight delivery for its event type
// without a global registry.
type dispatchFrame struct {
	bus   *Bus
	typ   reflect.Type
	d     *dispatcher
	event any
}

// frames is process-wide but the stack itself is goroutine-local: each
// goroutine only ever sees the frames it pushed. It is not scoped per Bus
// because a goroutine may be nested inside publishes on different buses
// simultaneously, and frame matching already filters by bus.
var frames = gls.New[*dispatchFrame]()
