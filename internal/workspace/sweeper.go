package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/digdeeper/internal/store"
)

// DefaultSweepInterval is how often the Sweeper runs when no interval is set.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically evicts idle workspaces and deletes snapshots that have
// not been updated within the retention period.
type Sweeper struct {
	registry  *Registry
	repo      store.Repository
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. A zero retention keeps snapshots forever.
func NewSweeper(registry *Registry, repo store.Repository, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry:  registry,
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("workspace sweeper started", "interval", s.interval, "retention", s.retention)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("workspace sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	before := s.registry.Len()
	s.registry.EvictIdle()
	if evicted := before - s.registry.Len(); evicted > 0 {
		s.logger.Info("evicted idle workspaces", "count", evicted)
	}

	if s.retention <= 0 {
		return
	}
	deleted, err := s.repo.CleanupStale(ctx, s.retention)
	if err != nil {
		s.logger.Error("failed to clean up stale snapshots", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("cleaned up stale snapshots", "count", deleted)
	}
}
