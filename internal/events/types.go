// Package events walks the remote mail change feed and turns raw change events into entity patches.
package events

import (
	"encoding/json"
)

// Cursor is an opaque, service-issued position in the change feed
type Cursor string

// Action is the kind of change carried by an EntityDelta
type Action int

const (
	ActionDelete Action = iota
	ActionCreate
	ActionUpdate
	ActionUpdateFlags
)

// EntityDelta is a single per-entity change inside a RawChangeEvent
type EntityDelta struct {
	ID     string          `json:"ID"`
	Action Action          `json:"Action"`
	Data   json.RawMessage `json:"Data,omitempty"`
}

// LabelCount is the per-label message counter delivered with an event
type LabelCount struct {
	LabelID string `json:"LabelID"`
	Total   int    `json:"Total"`
	Unread  int    `json:"Unread"`
}

// RawChangeEvent is one unit of the remote change feed
type RawChangeEvent struct {
	EventID       Cursor        `json:"EventID"`
	More          int           `json:"More"`
	Refresh       int           `json:"Refresh,omitempty"`
	MessageCounts []LabelCount  `json:"MessageCounts,omitempty"`
	Messages      []EntityDelta `json:"Messages,omitempty"`
	Conversations []EntityDelta `json:"Conversations,omitempty"`
	Labels        []EntityDelta `json:"Labels,omitempty"`
	Contacts      []EntityDelta `json:"Contacts,omitempty"`
}

// HasMore reports whether the service has more events pending after this one
func (e RawChangeEvent) HasMore() bool {
	return e.More == 1
}

// RefreshRequired reports whether the local mirror must be rebuilt from scratch
func (e RawChangeEvent) RefreshRequired() bool {
	return e.Refresh != 0
}
