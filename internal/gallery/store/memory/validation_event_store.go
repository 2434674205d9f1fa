package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/store"
)

// ValidationEventStore is an in-memory append-only log of validation
// decisions.  It is intended for use in tests and dev environments.
type ValidationEventStore struct {
	mu     sync.Mutex
	events []store.ValidationEventRecord
}

func NewValidationEventStore() *ValidationEventStore {
	return &ValidationEventStore{}
}

func (s *ValidationEventStore) RecordEvent(_ context.Context, rec store.ValidationEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

func (s *ValidationEventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.DecidedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of all recorded events.  Test-only helper.
func (s *ValidationEventStore) Events() []store.ValidationEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ValidationEventRecord, len(s.events))
	copy(out, s.events)
	return out
}
