package notify

import (
	"github.com/cybertec-postgresql/mailsync/internal/events"
)

// AlmostAllMailLabelID is the system label whose unread counter is reported
const AlmostAllMailLabelID = "15"

// UnreadTracker derives the unread counter of a label from live events and
// reports it only when it changes
type UnreadTracker struct {
	labelID string
	last    *int
}

// NewUnreadTracker creates a tracker for the given label, AlmostAllMailLabelID when empty
func NewUnreadTracker(labelID string) *UnreadTracker {
	if labelID == "" {
		labelID = AlmostAllMailLabelID
	}
	return &UnreadTracker{labelID: labelID}
}

// Observe returns the unread counter carried by event and whether it differs
// from the previously reported value. Events without counters are ignored.
func (u *UnreadTracker) Observe(event events.RawChangeEvent) (int, bool) {
	if event.MessageCounts == nil {
		return 0, false
	}

	unread := 0
	for _, count := range event.MessageCounts {
		if count.LabelID == u.labelID {
			unread = count.Unread
			break
		}
	}

	if u.last != nil && *u.last == unread {
		return unread, false
	}
	u.last = &unread
	return unread, true
}
