// Package patch defines the entity patch exchanged between the change feed and the local mailbox mirror.
package patch

import (
	"encoding/json"
)

// Kind identifies one of the mirrored entity collections
type Kind string

const (
	ConversationEntries Kind = "conversationEntries"
	Mails               Kind = "mails"
	Folders             Kind = "folders"
	Contacts            Kind = "contacts"
)

// Kinds lists every entity kind in a stable order
var Kinds = []Kind{ConversationEntries, Mails, Folders, Contacts}

// EntityID is the service-issued identifier of an entity
type EntityID string

// Entity is a single upserted entity with its raw service representation.
// When Merge is set Data is partial and is merged onto the stored data.
type Entity struct {
	ID    EntityID
	Data  json.RawMessage
	Merge bool
}

// Changes holds the removals and upserts of one entity kind
type Changes struct {
	Remove []EntityID
	Upsert []Entity
}

// Patch maps every entity kind to its changes. A patch produced by Empty always
// carries all kinds, so consumers may index it without presence checks.
type Patch map[Kind]Changes

// Empty returns the canonical no-op patch
func Empty() Patch {
	p := make(Patch, len(Kinds))
	for _, kind := range Kinds {
		p[kind] = Changes{Remove: []EntityID{}, Upsert: []Entity{}}
	}
	return p
}

// IsNonEmpty reports whether any kind carries a removal or an upsert
func IsNonEmpty(p Patch) bool {
	for _, changes := range p {
		if len(changes.Remove) > 0 || len(changes.Upsert) > 0 {
			return true
		}
	}
	return false
}

// AddUpsert appends an upsert for the given kind
func (p Patch) AddUpsert(kind Kind, entity Entity) {
	changes := p[kind]
	changes.Upsert = append(changes.Upsert, entity)
	p[kind] = changes
}

// AddRemove appends a removal for the given kind
func (p Patch) AddRemove(kind Kind, id EntityID) {
	changes := p[kind]
	changes.Remove = append(changes.Remove, id)
	p[kind] = changes
}

// KindCount is the number of upserts and removals of one kind
type KindCount struct {
	Upsert int
	Remove int
}

// Counts returns per-kind upsert/remove counts
func Counts(p Patch) map[Kind]KindCount {
	counts := make(map[Kind]KindCount, len(p))
	for kind, changes := range p {
		counts[kind] = KindCount{Upsert: len(changes.Upsert), Remove: len(changes.Remove)}
	}
	return counts
}
