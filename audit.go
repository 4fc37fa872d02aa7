package eventbus

import (
	"context"
	"reflect"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type strings used on emitted CloudEvents, following a
// "com.<domain>.<noun>.<verb>" reverse-DNS convention.
const (
	EventTypeHandlerSubscribed   = "com.eventbus.handler.subscribed"
	EventTypeHandlerUnsubscribed = "com.eventbus.handler.unsubscribed"
	EventTypePublished           = "com.eventbus.event.published"
	EventTypeHandlerFailed       = "com.eventbus.handler.failed"
)

// AuditSink observes bus lifecycle transitions without participating in
// dispatch: every call happens synchronously on the goroutine that
// triggered it, strictly after the transition it reports, and a sink that
// blocks or panics is the caller's own problem to avoid — the bus does
// not protect itself against a misbehaving sink.
type AuditSink interface {
	Subscribed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type, priority Priority, oneShot bool)
	Unsubscribed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type)
	Published(busID uuid.UUID, typ reflect.Type, handlerCount int, err error)
	HandlerFailed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type, err error)
}

// noopAuditSink is the default AuditSink: every call is a no-op. Installed
// by New unless WithAuditSink overrides it.
type noopAuditSink struct{}

func (noopAuditSink) Subscribed(uuid.UUID, HandlerID, reflect.Type, Priority, bool) {}
func (noopAuditSink) Unsubscribed(uuid.UUID, HandlerID, reflect.Type)               {}
func (noopAuditSink) Published(uuid.UUID, reflect.Type, int, error)                 {}
func (noopAuditSink) HandlerFailed(uuid.UUID, HandlerID, reflect.Type, error)       {}

// EmitFunc sends a fully-built CloudEvent somewhere: a log line, a local
// file, an HTTP collector. CloudEventsAuditSink never inspects the error
// EmitFunc returns beyond logging it — a failing sink must never affect
// dispatch.
type EmitFunc func(ctx context.Context, event cloudevents.Event) error

// CloudEventsAuditSink turns bus lifecycle transitions into CloudEvents
// and hands them to an EmitFunc.
type CloudEventsAuditSink struct {
	source     string
	emit       EmitFunc
	verbosity  func() AuditVerbosity
	logEmitErr func(error)
}

// NewCloudEventsAuditSink builds a sink that emits CloudEvents with the
// given source attribute. The owning Bus already gates every call against
// its own Config().AuditVerbosity before it ever reaches this sink;
// verbosity here is a second, independent filter, useful when a single
// sink is shared across buses with different verbosity needs or should
// stay coarser than the bus it is attached to. Pass
// `func() AuditVerbosity { return AuditFull }` to defer entirely to the
// bus's own gating. verbosity is called on every potential emission so a
// live Config change (via WatchConfig) takes effect immediately.
func NewCloudEventsAuditSink(source string, emit EmitFunc, verbosity func() AuditVerbosity, onEmitError func(error)) *CloudEventsAuditSink {
	if onEmitError == nil {
		onEmitError = func(error) {}
	}
	return &CloudEventsAuditSink{source: source, emit: emit, verbosity: verbosity, logEmitErr: onEmitError}
}

func (s *CloudEventsAuditSink) newEvent(eventType string) cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID(uuid.New().String())
	e.SetSource(s.source)
	e.SetType(eventType)
	e.SetTime(time.Now())
	e.SetSpecVersion(cloudevents.VersionV1)
	return e
}

func (s *CloudEventsAuditSink) send(e cloudevents.Event) {
	if err := s.emit(context.Background(), e); err != nil {
		s.logEmitErr(err)
	}
}

func (s *CloudEventsAuditSink) Subscribed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type, priority Priority, oneShot bool) {
	if s.verbosity() == AuditNone {
		return
	}
	e := s.newEvent(EventTypeHandlerSubscribed)
	_ = e.SetData(cloudevents.ApplicationJSON, map[string]any{
		"bus_id":     busID.String(),
		"handler_id": uint64(handlerID),
		"event_type": typ.String(),
		"priority":   priority.String(),
		"one_shot":   oneShot,
	})
	s.send(e)
}

func (s *CloudEventsAuditSink) Unsubscribed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type) {
	if s.verbosity() == AuditNone {
		return
	}
	e := s.newEvent(EventTypeHandlerUnsubscribed)
	_ = e.SetData(cloudevents.ApplicationJSON, map[string]any{
		"bus_id":     busID.String(),
		"handler_id": uint64(handlerID),
		"event_type": typ.String(),
	})
	s.send(e)
}

func (s *CloudEventsAuditSink) Published(busID uuid.UUID, typ reflect.Type, handlerCount int, err error) {
	if s.verbosity() != AuditFull {
		return
	}
	e := s.newEvent(EventTypePublished)
	data := map[string]any{
		"bus_id":        busID.String(),
		"event_type":    typ.String(),
		"handler_count": handlerCount,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	_ = e.SetData(cloudevents.ApplicationJSON, data)
	s.send(e)
}

func (s *CloudEventsAuditSink) HandlerFailed(busID uuid.UUID, handlerID HandlerID, typ reflect.Type, err error) {
	if s.verbosity() == AuditNone {
		return
	}
	e := s.newEvent(EventTypeHandlerFailed)
	_ = e.SetData(cloudevents.ApplicationJSON, map[string]any{
		"bus_id":     busID.String(),
		"handler_id": uint64(handlerID),
		"event_type": typ.String(),
		"error":      err.Error(),
	})
	s.send(e)
}
