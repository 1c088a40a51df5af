package db

import (
	"context"
	"sync"
	"time"

	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

// MemoryStore keeps the mirror in process memory, used for dry runs
type MemoryStore struct {
	mu      sync.Mutex
	mirrors map[string]*patch.Mirror
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mirrors: make(map[string]*patch.Mirror)}
}

func (s *MemoryStore) mirror(login string) *patch.Mirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[login]
	if !ok {
		m = patch.NewMirror()
		s.mirrors[login] = m
	}
	return m
}

// EnsureAccount returns the account metadata, registering the account if needed
func (s *MemoryStore) EnsureAccount(_ context.Context, login string) (AccountMetadata, error) {
	return AccountMetadata{
		Login:         login,
		LatestEventID: events.Cursor(s.mirror(login).Cursor()),
		UpdatedAt:     time.Now(),
	}, nil
}

// ApplyPatch applies p to the account mirror
func (s *MemoryStore) ApplyPatch(ctx context.Context, login string, p patch.Patch, cursor events.Cursor) error {
	return s.mirror(login).Apply(ctx, p, string(cursor))
}

// ResetAccount drops the account mirror
func (s *MemoryStore) ResetAccount(_ context.Context, login string) error {
	s.mirror(login).Reset()
	return nil
}

// Mirror exposes the account mirror for inspection
func (s *MemoryStore) Mirror(login string) *patch.Mirror {
	return s.mirror(login)
}
