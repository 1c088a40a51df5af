package events

import (
	"context"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

// PatchBuilder turns a group of raw change events into an entity patch
type PatchBuilder interface {
	BuildPatch(ctx context.Context, events []RawChangeEvent) (patch.Patch, error)
}

// PatchBuilderFunc adapts a function to PatchBuilder
type PatchBuilderFunc func(ctx context.Context, events []RawChangeEvent) (patch.Patch, error)

// BuildPatch calls f
func (f PatchBuilderFunc) BuildPatch(ctx context.Context, events []RawChangeEvent) (patch.Patch, error) {
	return f(ctx, events)
}

// DeltaBuilder builds patches from the per-entity deltas carried inline by the
// events. When an entity changes several times within a group only its last
// change survives, except flag updates: those carry partial data which is
// merged onto the data seen earlier in the group, or marked for merging onto
// the stored entity when nothing precedes them.
type DeltaBuilder struct{}

// NewDeltaBuilder creates a new delta builder
func NewDeltaBuilder() *DeltaBuilder {
	return &DeltaBuilder{}
}

// BuildPatch implements PatchBuilder
func (b *DeltaBuilder) BuildPatch(_ context.Context, events []RawChangeEvent) (patch.Patch, error) {
	collectors := map[patch.Kind]*deltaCollector{}
	for _, kind := range patch.Kinds {
		collectors[kind] = newDeltaCollector()
	}

	for _, event := range events {
		for kind, deltas := range map[patch.Kind][]EntityDelta{
			patch.Mails:               event.Messages,
			patch.ConversationEntries: event.Conversations,
			patch.Folders:             event.Labels,
			patch.Contacts:            event.Contacts,
		} {
			if err := collectors[kind].add(deltas); err != nil {
				return nil, fmt.Errorf("event %s, %s: %w", event.EventID, kind, err)
			}
		}
	}

	result := patch.Empty()
	for kind, collector := range collectors {
		collector.flush(result, kind)
	}
	return result, nil
}

type deltaCollector struct {
	order []string
	last  map[string]EntityDelta
}

func newDeltaCollector() *deltaCollector {
	return &deltaCollector{last: make(map[string]EntityDelta)}
}

func (c *deltaCollector) add(deltas []EntityDelta) error {
	for _, delta := range deltas {
		if delta.ID == "" {
			continue
		}
		prev, seen := c.last[delta.ID]
		if !seen {
			c.order = append(c.order, delta.ID)
		}
		if seen && delta.Action == ActionUpdateFlags && prev.Action != ActionDelete {
			if len(delta.Data) == 0 {
				continue
			}
			if len(prev.Data) > 0 {
				merged, err := jsonpatch.MergePatch(prev.Data, delta.Data)
				if err != nil {
					return fmt.Errorf("failed to merge flags of %s: %w", delta.ID, err)
				}
				delta = EntityDelta{ID: delta.ID, Action: prev.Action, Data: merged}
			}
		}
		c.last[delta.ID] = delta
	}
	return nil
}

func (c *deltaCollector) flush(p patch.Patch, kind patch.Kind) {
	for _, id := range c.order {
		delta := c.last[id]
		if delta.Action == ActionDelete {
			p.AddRemove(kind, patch.EntityID(id))
			continue
		}
		p.AddUpsert(kind, patch.Entity{
			ID:    patch.EntityID(id),
			Data:  delta.Data,
			Merge: delta.Action == ActionUpdateFlags,
		})
	}
}
