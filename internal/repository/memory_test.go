package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoomLocker(t *testing.T) {
	locker := NewMemoryRoomLocker()
	ctx := context.Background()

	t.Run("HeldLockBlocksSameRoom", func(t *testing.T) {
		unlock, err := locker.LockRoom(ctx, 1)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err = locker.LockRoom(waitCtx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock2, err := locker.LockRoom(ctx, 1)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("RoomsAreIndependent", func(t *testing.T) {
		unlockA, err := locker.LockRoom(ctx, 2)
		require.NoError(t, err)
		defer unlockA()

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		unlockB, err := locker.LockRoom(waitCtx, 3)
		require.NoError(t, err)
		unlockB()
	})

	t.Run("UnlockIsIdempotent", func(t *testing.T) {
		unlock, err := locker.LockRoom(ctx, 4)
		require.NoError(t, err)
		unlock()
		unlock()

		unlock, err = locker.LockRoom(ctx, 4)
		require.NoError(t, err)
		unlock()
	})

	t.Run("MutualExclusion", func(t *testing.T) {
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.LockRoom(ctx, 5)
				if err != nil {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
	})
}
