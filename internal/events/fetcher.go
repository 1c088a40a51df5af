package events

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StallThreshold is the number of consecutive responses repeating the requested
// cursor after which the fetch loop gives up for the current cycle
const StallThreshold = 3

// Transport performs the network requests against the change feed
type Transport interface {
	GetEvents(ctx context.Context, cursor Cursor) (RawChangeEvent, error)
	GetLatestEventID(ctx context.Context) (Cursor, error)
}

// Result is the outcome of one FetchEvents call. When Refresh is set the mirror
// is stale and Events and Cursor carry nothing.
type Result struct {
	Cursor  Cursor
	Events  []RawChangeEvent
	Refresh bool
}

// Fetcher walks the change feed from a cursor until it is exhausted
type Fetcher struct {
	transport Transport
	logger    *logrus.Entry
}

// NewFetcher creates a new fetcher
func NewFetcher(transport Transport, logger *logrus.Entry) *Fetcher {
	return &Fetcher{
		transport: transport,
		logger:    logger.WithField("component", "fetcher"),
	}
}

// iterationState lives for a single FetchEvents call
type iterationState struct {
	cursor       Cursor
	stallCounter int
}

// FetchEvents collects every pending event starting at cursor
func (f *Fetcher) FetchEvents(ctx context.Context, cursor Cursor) (Result, error) {
	state := iterationState{cursor: cursor}
	var collected []RawChangeEvent

	for {
		event, err := f.transport.GetEvents(ctx, state.cursor)
		if err != nil {
			return Result{}, fmt.Errorf("failed to fetch events at cursor %q: %w", state.cursor, err)
		}

		if event.RefreshRequired() {
			f.logger.WithFields(logrus.Fields{
				"cursor":    state.cursor,
				"discarded": len(collected),
			}).Warn("Change feed requested a full refresh")
			return Result{Refresh: true}, nil
		}

		collected = append(collected, event)

		// compare against the requested cursor before advancing
		if event.EventID == state.cursor {
			state.stallCounter++
		} else {
			state.stallCounter = 0
		}
		state.cursor = event.EventID

		if !event.HasMore() {
			break
		}

		if state.stallCounter >= StallThreshold {
			f.logger.WithFields(logrus.Fields{
				"cursor":  state.cursor,
				"repeats": state.stallCounter,
			}).Error("Change feed reports more events but keeps returning the same cursor")
			break
		}
	}

	f.logger.WithField("count", len(collected)).Infof("fetched %d missed events", len(collected))

	return Result{Cursor: state.cursor, Events: collected}, nil
}
