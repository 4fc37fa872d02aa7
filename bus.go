package eventbus

import (
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Bus routes subscribe, publish, and unsubscribe calls across event
// types. It owns one dispatcher per event type, a handler-id-to-type
// index used to resolve type-agnostic Unsubscribe calls, and the
// monotonic handler-id counter. A Bus must not be copied after first use;
// share it by pointer.
type Bus struct {
	id     uuid.UUID
	logger *slog.Logger
	cfg    atomic.Pointer[Config]
	audit  atomic.Pointer[AuditSink]

	mu           sync.Mutex
	dispatchers  map[reflect.Type]*dispatcher
	handlerTypes map[HandlerID]reflect.Type
	nextID       atomic.Uint64

	janitor *janitor
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the default slog.Logger (slog.Default()) used for
// the bus's own diagnostic logging.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithConfig sets the bus's initial Config. Use Bus.WatchConfig to keep it
// in sync with a file on disk afterward.
func WithConfig(cfg Config) Option {
	return func(b *Bus) { b.cfg.Store(&cfg) }
}

// WithAuditSink installs a sink that observes subscribe/unsubscribe/
// publish/handler-failure lifecycle events. The default is a no-op sink.
func WithAuditSink(sink AuditSink) Option {
	return func(b *Bus) { b.audit.Store(&sink) }
}

// New creates an empty Bus with no dispatchers. Dispatchers are created
// lazily, the first time a subscribe or publish call needs one for a
// given event type.
func New(opts ...Option) *Bus {
	b := &Bus{
		id:           uuid.New(),
		dispatchers:  make(map[reflect.Type]*dispatcher),
		handlerTypes: make(map[HandlerID]reflect.Type),
	}
	cfg := DefaultConfig()
	b.cfg.Store(&cfg)
	var sink AuditSink = noopAuditSink{}
	b.audit.Store(&sink)

	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("bus_id", b.id.String())
	return b
}

// ID returns this bus's process-unique instance identifier, attached to
// every audit event and log line it emits.
func (b *Bus) ID() uuid.UUID { return b.id }

// Config returns the bus's current configuration snapshot.
func (b *Bus) Config() Config { return *b.cfg.Load() }

// SetConfig atomically replaces the bus's live configuration. Used
// directly by callers and internally by WatchConfig's fsnotify handler.
func (b *Bus) SetConfig(cfg Config) { b.cfg.Store(&cfg) }

func (b *Bus) auditSink() AuditSink { return *b.audit.Load() }

func (b *Bus) nextHandlerID() HandlerID {
	return HandlerID(b.nextID.Add(1))
}

// dispatcherFor returns the dispatcher for typ, creating it if absent.
// Creation is an insert-if-absent under the bus mutex, so exactly one
// dispatcher ever exists per event type for the bus's lifetime even under
// concurrent publishers.
func (b *Bus) dispatcherFor(typ reflect.Type) *dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dispatchers[typ]
	if !ok {
		d = newDispatcher(typ)
		b.dispatchers[typ] = d
	}
	return d
}

// dispatcherIfExists returns the dispatcher for typ without creating one.
func (b *Bus) dispatcherIfExists(typ reflect.Type) (*dispatcher, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dispatchers[typ]
	return d, ok
}

// EventTypes lists every event type with a live dispatcher. A type
// appears here once a subscribe or publish has touched it, even if it
// currently has zero active handlers.
func (b *Bus) EventTypes() []reflect.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]reflect.Type, 0, len(b.dispatchers))
	for t := range b.dispatchers {
		out = append(out, t)
	}
	return out
}

// Stats returns delivery counters for typ's dispatcher. The zero value is
// returned for an event type with no dispatcher yet.
func (b *Bus) Stats(typ reflect.Type) DispatchStats {
	d, ok := b.dispatcherIfExists(typ)
	if !ok {
		return DispatchStats{}
	}
	return d.stats()
}

// Unsubscribe removes the handler identified by id, regardless of its
// event type. Unknown ids (never issued, or already unsubscribed) are a
// silent no-op, so scoped Registrations stay safe to close more than
// once. Safe to call from within a handler, including the handler's own
// id.
func (b *Bus) Unsubscribe(id HandlerID) {
	if id == 0 {
		return
	}

	b.mu.Lock()
	typ, ok := b.handlerTypes[id]
	if ok {
		delete(b.handlerTypes, id)
	}
	d := b.dispatchers[typ]
	b.mu.Unlock()

	if !ok {
		return
	}

	removed := d.remove(id)
	if removed {
		b.logger.Debug("handler unsubscribed", "handler_id", id, "event_type", typ.String())
		if b.Config().AuditVerbosity.allowsLifecycle() {
			b.auditSink().Unsubscribed(b.id, id, typ)
		}
	}
}

// HandlerCount returns the number of currently active (registered and,
// for one-shot handlers, not yet fired) handlers for event type E. It
// returns 0 for an event type nothing has ever subscribed or published.
func HandlerCount[E any](b *Bus) int {
	typ := typeOf[E]()
	d, ok := b.dispatcherIfExists(typ)
	if !ok {
		return 0
	}
	return d.activeCount()
}

// Subscribe registers handler for every future publish of E, at the given
// priority, and returns its handler id.
//
// If Subscribe is called from inside a handler that is itself running
// because of an in-flight Publish[E] on this same bus, the new handler
// additionally observes that in-flight event exactly once, before any
// not-yet-visited handler of the outer delivery runs. This is the
// subscribe-during-dispatch rule: without it, a handler installed mid-
// delivery would silently miss the event that triggered its own
// installation.
func Subscribe[E any](b *Bus, priority Priority, handler Handler[E]) (HandlerID, error) {
	return subscribe(b, priority, handler, false)
}

// SubscribeOnce registers handler to run at most once, ever, across any
// number of future publishes and any number of concurrent publishers. It
// participates in the same subscribe-during-dispatch rule as Subscribe:
// if installed mid-delivery of its own event type, the in-flight event
// counts as its one and only invocation.
func SubscribeOnce[E any](b *Bus, priority Priority, handler Handler[E]) (HandlerID, error) {
	return subscribe(b, priority, handler, true)
}

func subscribe[E any](b *Bus, priority Priority, handler Handler[E], oneShot bool) (HandlerID, error) {
	if !priority.valid() {
		b.logger.Warn("subscribe called with invalid priority, defaulting to Normal", "priority", int8(priority))
		priority = Normal
	}

	typ := typeOf[E]()
	id := b.nextHandlerID()
	d := b.dispatcherFor(typ)

	wrapped := func(event any) error { return handler(event.(E)) }
	d.add(id, priority, oneShot, wrapped)

	b.mu.Lock()
	b.handlerTypes[id] = typ
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", "handler_id", id, "event_type", typ.String(), "priority", priority.String(), "one_shot", oneShot)
	if b.Config().AuditVerbosity.allowsLifecycle() {
		b.auditSink().Subscribed(b.id, id, typ, priority, oneShot)
	}

	// Re-entrant subscription rule: if the calling goroutine is currently
	// inside a Publish[E] on this bus, run the new handler against that
	// frame's event right now, before returning, so it is not silently
	// skipped by the outer delivery's already-taken snapshot.
	if frame, ok := frames.FindTop(func(f *dispatchFrame) bool {
		return f.bus == b && f.typ == typ
	}); ok {
		cfg := b.Config()
		ran, err := d.deliverOne(id, frame.event, cfg.RecoverPanics)
		if ran && err != nil {
			b.logger.Error("subscribe-during-dispatch handler failed", "handler_id", id, "event_type", typ.String(), "error", err)
			if cfg.AuditVerbosity.allowsLifecycle() {
				b.auditSink().HandlerFailed(b.id, id, typ, err)
			}
			return id, err
		}
	}

	return id, nil
}

// Publish delivers event to every currently active handler subscribed to
// E, in priority order, on the calling goroutine. It returns the first
// error returned (or, when Config.RecoverPanics is set, panic raised) by
// a handler; handlers not yet reached at that point do not run. A handler
// unsubscribing itself, unsubscribing another not-yet-reached handler, or
// subscribing a new handler while this call is in progress is fully
// supported — see the package doc and Subscribe.
func Publish[E any](b *Bus, event E) error {
	typ := typeOf[E]()
	d := b.dispatcherFor(typ)

	frame := &dispatchFrame{bus: b, typ: typ, d: d, event: event}
	pop := frames.Push(frame)
	defer pop()

	cfg := b.Config()
	err := d.deliver(event, cfg.RecoverPanics)

	if err != nil {
		b.logger.Error("publish encountered handler failure", "event_type", typ.String(), "error", err)
		var hErr *HandlerError
		if as, ok := err.(*HandlerError); ok {
			hErr = as
			if cfg.AuditVerbosity.allowsLifecycle() {
				b.auditSink().HandlerFailed(b.id, hErr.HandlerID, typ, err)
			}
		}
	}
	if cfg.AuditVerbosity.allowsFull() {
		b.auditSink().Published(b.id, typ, d.activeCount(), err)
	}

	return err
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}
