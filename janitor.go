package eventbus

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// janitor periodically compacts every dispatcher's slot list, excising
// inactive slots left behind by an unsubscribe that happened while a
// delivery for that event type was in flight (dispatcher.remove only
// excises immediately when called at rest). It never invokes a handler
// and never changes which slots are active, so it does not participate in
// dispatch and carries none of the ordering or atomicity guarantees that
// section applies to — it is maintenance, not delivery.
type janitor struct {
	cron *cron.Cron
}

// StartJanitor starts a background compaction sweep on schedule (cron
// expression syntax, e.g. "@every 1m" or "0 */5 * * * *"). Only one
// janitor runs per Bus; calling StartJanitor again replaces the previous
// schedule. The returned stop function halts the sweep and waits for any
// in-progress run to finish.
func (b *Bus) StartJanitor(schedule string) (stop func(), err error) {
	if schedule == "" {
		return nil, ErrEmptyJanitorSchedule
	}

	if b.janitor != nil {
		b.janitor.cron.Stop()
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, b.compactAll)
	if err != nil {
		return nil, fmt.Errorf("eventbus: invalid janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	b.janitor = &janitor{cron: c}

	return func() {
		ctx := c.Stop()
		<-ctx.Done()
	}, nil
}

// compactAll runs dispatcher.compact on every dispatcher the bus currently
// knows about. The dispatcher list itself is snapshotted under the bus
// mutex and then released before any compaction runs, so the janitor never
// holds a lock across dispatcher work.
func (b *Bus) compactAll() {
	b.mu.Lock()
	dispatchers := make([]*dispatcher, 0, len(b.dispatchers))
	for _, d := range b.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	b.mu.Unlock()

	for _, d := range dispatchers {
		d.compact()
	}
}
