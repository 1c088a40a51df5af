package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
)

// Mirror is an in-memory entity store. Applying a patch removes first and upserts
// afterwards, so re-applying the same patch leaves the state unchanged.
type Mirror struct {
	mu       sync.RWMutex
	entities map[Kind]map[EntityID]json.RawMessage
	cursor   string
}

// NewMirror creates an empty mirror
func NewMirror() *Mirror {
	m := &Mirror{entities: make(map[Kind]map[EntityID]json.RawMessage, len(Kinds))}
	for _, kind := range Kinds {
		m.entities[kind] = make(map[EntityID]json.RawMessage)
	}
	return m
}

// Apply applies the patch and records the cursor it was built up to.
// Nothing is changed when a merge fails.
func (m *Mirror) Apply(_ context.Context, p Patch, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[Kind]map[EntityID]json.RawMessage, len(p))
	for kind, changes := range p {
		bucket := make(map[EntityID]json.RawMessage, len(m.entities[kind]))
		for id, data := range m.entities[kind] {
			bucket[id] = data
		}
		for _, id := range changes.Remove {
			delete(bucket, id)
		}
		for _, entity := range changes.Upsert {
			data := append(json.RawMessage(nil), entity.Data...)
			if stored, ok := bucket[entity.ID]; ok && entity.Merge {
				if len(data) == 0 {
					continue
				}
				merged, err := jsonpatch.MergePatch(stored, data)
				if err != nil {
					return fmt.Errorf("failed to merge %s %s: %w", kind, entity.ID, err)
				}
				data = merged
			}
			bucket[entity.ID] = data
		}
		staged[kind] = bucket
	}
	for kind, bucket := range staged {
		m.entities[kind] = bucket
	}
	m.cursor = cursor
	return nil
}

// Reset drops every entity and the cursor
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind := range m.entities {
		m.entities[kind] = make(map[EntityID]json.RawMessage)
	}
	m.cursor = ""
}

// Cursor returns the cursor recorded by the latest Apply
func (m *Mirror) Cursor() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

// Get returns an entity and whether it exists
func (m *Mirror) Get(kind Kind, id EntityID) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entities[kind][id]
	return data, ok
}

// Snapshot returns a copy of the stored entities
func (m *Mirror) Snapshot() map[Kind]map[EntityID]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[Kind]map[EntityID]string, len(m.entities))
	for kind, bucket := range m.entities {
		copied := make(map[EntityID]string, len(bucket))
		for id, data := range bucket {
			copied[id] = string(data)
		}
		snapshot[kind] = copied
	}
	return snapshot
}
