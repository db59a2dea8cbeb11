package jobs

import (
	"context"
	"log/slog"
)

// maxSweepRounds bounds how many batches one run drains
const maxSweepRounds = 100

// Sweeper expires lapsed licenses in batches
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirySweeper moves every active license whose expiry has passed to expired. It
// complements the lazy check on the read path, so that listings and counters converge
// even for organizations nobody reads.
type ExpirySweeper struct {
	engine Sweeper
}

// NewExpirySweeper creates the sweep job
func NewExpirySweeper(engine Sweeper) *ExpirySweeper {
	return &ExpirySweeper{engine: engine}
}

// Name implements Job
func (s *ExpirySweeper) Name() string { return "expiry_sweep" }

// Run drains lapsed licenses batch by batch until a batch comes back empty
func (s *ExpirySweeper) Run(ctx context.Context) error {
	total := 0
	for round := 0; round < maxSweepRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.engine.SweepExpired(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		slog.Info("expiry sweep expired licenses", "count", total)
	}
	return nil
}
