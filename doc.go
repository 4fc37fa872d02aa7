// Package eventbus is an in-process, type-safe publish/subscribe bus.
//
// Producers publish values of any Go type; handlers registered for that
// type run synchronously on the publishing goroutine, in priority order.
// The bus supports multiple concurrent event types, one-shot
// subscriptions, scoped (auto-unsubscribing) registrations, and full
// re-entrancy: a handler may publish further events, subscribe new
// handlers, or unsubscribe any handler — including itself — while
// delivery is in progress.
//
// The bus does not queue, retry, or deliver across goroutine boundaries.
// Publish blocks until every handler for that event type has run (or one
// has returned an error), exactly as a plain function call would.
package eventbus
