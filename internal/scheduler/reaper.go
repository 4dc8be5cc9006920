package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

// DefaultReaperIdle is how long a transient relay handle may sit unused
const DefaultReaperIdle = 2 * time.Minute

// Pruner closes idle transient relay handles. *relay.Manager implements it.
type Pruner interface {
	PruneTransient(idle time.Duration) int
}

// Reaper periodically closes connections that were opened for a one-off query
// (note lookups on public relays) and are not part of the user's relay set
type Reaper struct {
	pruner Pruner
	idle   time.Duration
	logger logger.Logger
	job    *job
}

// NewReaper creates a new reaper
func NewReaper(pruner Pruner, log logger.Logger, interval, idle time.Duration, clk clock.Clock) *Reaper {
	if idle <= 0 {
		idle = DefaultReaperIdle
	}
	return &Reaper{
		pruner: pruner,
		idle:   idle,
		logger: log,
		job:    newJob(clk, interval, nil),
	}
}

// Start begins periodic reaping
func (r *Reaper) Start(ctx context.Context) {
	r.job.start(ctx, func(context.Context) { r.Reap() })
}

// Stop stops the reaper
func (r *Reaper) Stop() {
	r.job.stop()
}

// Reap closes idle transient handles and returns how many went away
func (r *Reaper) Reap() int {
	n := r.pruner.PruneTransient(r.idle)
	if n > 0 {
		r.logger.Info("closed idle transient relays", logger.Int("count", n))
	} else {
		r.logger.Debug("no idle transient relays")
	}
	return n
}
