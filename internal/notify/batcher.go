// Package notify coalesces live change events into batched update notifications.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

// DefaultQuietPeriod is the time without new events after which a window closes
const DefaultQuietPeriod = 1500 * time.Millisecond

const windowQueueSize = 16

// Notification is emitted towards the account owner. Exactly one of the fields is set.
type Notification struct {
	BatchEntityUpdatesCounter int  `json:"batchEntityUpdatesCounter,omitempty"`
	Unread                    *int `json:"unread,omitempty"`
}

// Batcher groups live events arriving in bursts and reports non-empty patches
type Batcher struct {
	builder events.PatchBuilder
	quiet   time.Duration
	unread  *UnreadTracker
	logger  *logrus.Entry

	// owned by the processing goroutine
	counter int
}

// NewBatcher creates a new batcher. A nil unread tracker disables unread notifications.
func NewBatcher(builder events.PatchBuilder, quietPeriod time.Duration, unread *UnreadTracker, logger *logrus.Entry) *Batcher {
	if quietPeriod <= 0 {
		quietPeriod = DefaultQuietPeriod
	}
	return &Batcher{
		builder: builder,
		quiet:   quietPeriod,
		unread:  unread,
		logger:  logger.WithField("component", "batcher"),
	}
}

// Run consumes in until it is closed or ctx is done. The returned channel is
// closed once every pending window has been processed.
func (b *Batcher) Run(ctx context.Context, in <-chan events.RawChangeEvent) <-chan Notification {
	out := make(chan Notification)
	windows := make(chan []events.RawChangeEvent, windowQueueSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.collect(ctx, in, windows, out)
	}()
	go func() {
		defer wg.Done()
		for window := range windows {
			b.process(ctx, window, out)
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// collect splits the incoming stream into windows separated by quiet periods
func (b *Batcher) collect(ctx context.Context, in <-chan events.RawChangeEvent, windows chan<- []events.RawChangeEvent, out chan<- Notification) {
	defer close(windows)

	var (
		window []events.RawChangeEvent
		quiet  <-chan time.Time
	)
	flush := func() bool {
		if len(window) == 0 {
			return true
		}
		select {
		case windows <- window:
			window = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-in:
			if !ok {
				flush()
				return
			}
			if b.unread != nil {
				if unread, changed := b.unread.Observe(event); changed {
					if !emit(ctx, out, Notification{Unread: &unread}) {
						return
					}
				}
			}
			window = append(window, event)
			quiet = time.After(b.quiet)
		case <-quiet:
			quiet = nil
			if !flush() {
				return
			}
		}
	}
}

// process builds the patch for one window and emits a notification when it is not empty
func (b *Batcher) process(ctx context.Context, window []events.RawChangeEvent, out chan<- Notification) {
	logger := b.logger.WithField("events", len(window))

	p, err := b.builder.BuildPatch(ctx, window)
	if err != nil {
		logger.WithError(err).Error("Failed to build patch for live events")
		return
	}
	if !patch.IsNonEmpty(p) {
		logger.Debug("Live events produced an empty patch")
		return
	}

	for kind, count := range patch.Counts(p) {
		logger.WithFields(logrus.Fields{
			"kind":   kind,
			"upsert": count.Upsert,
			"remove": count.Remove,
		}).Debugf("upsert/remove %s: %d/%d", kind, count.Upsert, count.Remove)
	}

	b.counter++
	emit(ctx, out, Notification{BatchEntityUpdatesCounter: b.counter})
}

func emit(ctx context.Context, out chan<- Notification, n Notification) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}
