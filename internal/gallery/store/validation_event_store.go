package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
)

// ValidationEventRecord captures one validation decision for the audit log.
// The submitted code is never stored; CodeHash is its SHA-256 digest so that
// repeated attempts with the same code can still be correlated.
type ValidationEventRecord struct {
	ID               string
	RequestID        string
	CodeHash         []byte // SHA-256; nil when no code was submitted
	Outcome          types.Outcome
	Valid            bool
	Reason           string
	MatchCount       int
	AppointmentStart *time.Time // set when exactly one appointment matched and its start resolved
	DecidedAt        time.Time
}

// ValidationEventStore persists validation decisions as an append-only log.
// The log is write-only from the validator's point of view; it never feeds
// back into a decision.
type ValidationEventStore interface {
	RecordEvent(ctx context.Context, rec ValidationEventRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
