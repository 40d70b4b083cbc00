package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) LockRoom(ctx context.Context, roomID int64) (func(), error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverRoomLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverRoomLocker(primary, fallback, &logger)
	ctx := context.Background()

	released := ""
	primaryUnlock := func() { released = "primary" }
	fallbackUnlock := func() { released = "fallback" }

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("LockRoom", ctx, int64(1)).Return(primaryUnlock, nil).Once()

		unlock, err := locker.LockRoom(ctx, 1)
		require.NoError(t, err)
		unlock()
		assert.Equal(t, "primary", released)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailureFallsBack", func(t *testing.T) {
		primary.On("LockRoom", ctx, int64(2)).Return(nil, errors.New("connection refused")).Once()
		fallback.On("LockRoom", ctx, int64(2)).Return(fallbackUnlock, nil).Once()

		unlock, err := locker.LockRoom(ctx, 2)
		require.NoError(t, err)
		unlock()
		assert.Equal(t, "fallback", released)
		assert.True(t, locker.isDown.Load())
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("LockRoom", ctx, int64(3)).Return(fallbackUnlock, nil).Once()

		_, err := locker.LockRoom(ctx, 3)
		require.NoError(t, err)
		primary.AssertNotCalled(t, "LockRoom", ctx, int64(3))
	})

	t.Run("RecoversAfterRetryWindow", func(t *testing.T) {
		locker.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("LockRoom", ctx, int64(4)).Return(primaryUnlock, nil).Once()

		_, err := locker.LockRoom(ctx, 4)
		require.NoError(t, err)
		assert.False(t, locker.isDown.Load())
	})

	t.Run("ContextErrorDoesNotFailOver", func(t *testing.T) {
		primary.On("LockRoom", ctx, int64(5)).Return(nil, context.DeadlineExceeded).Once()

		_, err := locker.LockRoom(ctx, 5)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, locker.isDown.Load())
		fallback.AssertNotCalled(t, "LockRoom", ctx, int64(5))
	})
}
