package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"kostbook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverRoomLocker prefers the shared Redis lease and drops to the in-process
// locker while Redis is unreachable. The ledger transaction still rejects
// overlaps if two replicas degrade at the same time.
type FailoverRoomLocker struct {
	primary   domain.RoomLocker
	fallback  domain.RoomLocker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	retryIn   time.Duration
}

func NewFailoverRoomLocker(primary, fallback domain.RoomLocker, logger *zerolog.Logger) *FailoverRoomLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRoomLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		retryIn:  time.Minute,
	}
}

func (r *FailoverRoomLocker) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary room locker failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverRoomLocker) LockRoom(ctx context.Context, roomID int64) (func(), error) {
	down := r.isDown.Load()
	// Try to recover after retryIn
	if down && time.Since(time.Unix(0, r.lastCheck.Load())) > r.retryIn {
		down = false
	}

	if !down {
		unlock, err := r.primary.LockRoom(ctx, roomID)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary room locker recovered")
			}
			return unlock, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		r.markDown(err)
	}

	return r.fallback.LockRoom(ctx, roomID)
}
