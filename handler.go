package eventbus

// HandlerID identifies one subscription, process-wide. 0 is reserved to
// mean "no handler"; every issued id is strictly greater than every id
// issued before it and is never reused, even after unsubscription.
type HandlerID uint64

// Handler processes one event of type E. A non-nil return aborts the
// remainder of the current Publish's iteration (see Publish) and is
// returned to the caller; handlers not yet reached by that delivery do
// not run.
type Handler[E any] func(event E) error
