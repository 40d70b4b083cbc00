package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestExpirySweeperRunsOnInterval(t *testing.T) {
	target := &countingSweeper{}
	sweeper := NewExpirySweeper(target, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExpirySweeperRunOnceReportsCount(t *testing.T) {
	target := &countingSweeper{err: errors.New("db down")}
	sweeper := NewExpirySweeper(target, 0, nil)

	assert.Equal(t, 2, sweeper.RunOnce(context.Background()))
	assert.Equal(t, time.Minute, sweeper.interval)
}
