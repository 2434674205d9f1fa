package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/store"
)

// AuditPruner periodically deletes validation events older than the
// retention period.  A retention of 0 disables pruning entirely.
type AuditPruner struct {
	store     store.ValidationEventStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how many days of audit history to keep.  0 keeps
	// everything and the pruner never starts.
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int
}

// NewAuditPruner creates a pruner but does not start it.
func NewAuditPruner(s store.ValidationEventStore, cfg PrunerConfig, logger zerolog.Logger) *AuditPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &AuditPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately, then on every interval, until ctx is
// cancelled or Stop is called.
func (p *AuditPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info().Msg("audit pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Dur("interval", p.interval).
		Msg("audit pruner started")
}

// Stop signals the pruner to exit and waits for it.  Safe to call more
// than once.
func (p *AuditPruner) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.done
}

// PruneNow runs a single pass and reports how many events were removed.
func (p *AuditPruner) PruneNow(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.retention)
	return p.store.PruneOlderThan(ctx, cutoff)
}

func (p *AuditPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *AuditPruner) prune(ctx context.Context) {
	deleted, err := p.PruneNow(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("audit prune failed")
		return
	}
	if deleted > 0 {
		p.logger.Info().Int64("deleted", deleted).Msg("audit prune")
	}
}
