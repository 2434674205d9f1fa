package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/BrandonDHaskell/GalleryGate/internal/db"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/store"
)

type ValidationEventStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewValidationEventStore(db *sql.DB, writer *dbpkg.Writer) *ValidationEventStore {
	return &ValidationEventStore{db: db, writer: writer}
}

func (s *ValidationEventStore) RecordEvent(ctx context.Context, rec store.ValidationEventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	var requestID any
	if rec.RequestID != "" {
		requestID = rec.RequestID
	}

	var codeHash any
	if len(rec.CodeHash) == 32 {
		codeHash = rec.CodeHash
	}

	var startMs any
	if rec.AppointmentStart != nil {
		startMs = rec.AppointmentStart.UTC().UnixMilli()
	}

	var valid int
	if rec.Valid {
		valid = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO validation_events(
  event_id, request_id, code_hash, outcome, valid,
  reason, match_count, appointment_start_ms, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, requestID, codeHash, string(rec.Outcome), valid,
			rec.Reason, rec.MatchCount, startMs, rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes events decided before cutoff and returns how many
// rows went.  Uses idx_validation_events_time.
func (s *ValidationEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM validation_events
WHERE decided_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		// Do may return before the job finishes; deleted is only safe to
		// read once the job has reported back.
		return 0, err
	}
	return deleted, nil
}
