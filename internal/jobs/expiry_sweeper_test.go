package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type scriptedSweeper struct {
	results []int
	err     error
	calls   int
}

func (s *scriptedSweeper) SweepExpired(context.Context) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func TestExpirySweeper_DrainsUntilEmptyBatch(t *testing.T) {
	sweeper := &scriptedSweeper{results: []int{500, 500, 7}}

	err := NewExpirySweeper(sweeper).Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, sweeper.calls)
}

func TestExpirySweeper_NothingLapsed(t *testing.T) {
	sweeper := &scriptedSweeper{}

	assert.NoError(t, NewExpirySweeper(sweeper).Run(context.Background()))
	assert.Equal(t, 1, sweeper.calls)
}

func TestExpirySweeper_StopsAtRoundLimit(t *testing.T) {
	results := make([]int, maxSweepRounds+10)
	for i := range results {
		results[i] = 1
	}
	sweeper := &scriptedSweeper{results: results}

	assert.NoError(t, NewExpirySweeper(sweeper).Run(context.Background()))
	assert.Equal(t, maxSweepRounds, sweeper.calls)
}

func TestExpirySweeper_PropagatesError(t *testing.T) {
	sweeper := &scriptedSweeper{err: errors.New("connection refused")}

	err := NewExpirySweeper(sweeper).Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestExpirySweeper_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := &scriptedSweeper{results: []int{3}}

	err := NewExpirySweeper(sweeper).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sweeper.calls)
}
