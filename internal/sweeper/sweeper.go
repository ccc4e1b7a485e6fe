// Package sweeper runs the orchestrator's idle sweep on a fixed cadence,
// driven by golang.org/x/sync/errgroup for structured start/stop.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Interval is the fixed idle-sweep cadence.
const Interval = 30 * time.Second

// Orchestrator is the narrow collaborator the sweeper needs.
type Orchestrator interface {
	Sweep() int
}

// Sweeper ticks at Interval, calling Sweep on the orchestrator. Panics and
// errors from a single tick are logged and swallowed; they never stop the
// loop.
type Sweeper struct {
	orch     Orchestrator
	logger   *slog.Logger
	interval time.Duration
}

// New builds a Sweeper. logger may be nil, in which case slog.Default is
// used.
func New(orch Orchestrator, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{orch: orch, logger: logger, interval: Interval}
}

// Run blocks, ticking until ctx is cancelled, and is meant to be launched
// as one goroutine in an errgroup.Group so the caller can cancel it
// alongside the rest of the server's lifecycle.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweeper: tick panicked", "recover", r)
		}
	}()
	n := s.orch.Sweep()
	if n > 0 {
		s.logger.Info("sweeper: idle sweep complete", "evicted", n)
	}
}

// RunIn launches the sweeper inside g, bound to ctx.
func RunIn(g *errgroup.Group, ctx context.Context, s *Sweeper) {
	g.Go(func() error { return s.Run(ctx) })
}
