// Package scheduler runs periodic maintenance over the reindex job
// registry.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/annodex/internal/reindex"
)

// Config holds sweeper configuration.
type Config struct {
	Interval time.Duration // eviction cadence (default 1m)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: time.Minute}
}

// Sweeper evicts terminal jobs beyond the registry's retention bound.
type Sweeper struct {
	registry *reindex.Registry
	config   Config
}

// New creates a Sweeper over the given registry.
func New(r *reindex.Registry, config Config) *Sweeper {
	if config.Interval == 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Sweeper{registry: r, config: config}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("retention sweeper started", "interval", s.config.Interval)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	if n := s.registry.EvictTerminal(); n > 0 {
		slog.Info("evicted terminal reindex jobs", "count", n)
	}
}

// RunOnce executes a single sweep. Useful for testing.
func (s *Sweeper) RunOnce() {
	s.tick()
}
