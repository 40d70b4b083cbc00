package repository

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRoomLocker serializes admissions per room inside one process.
type MemoryRoomLocker struct {
	locks sync.Map // map[int64]chan struct{}
}

func NewMemoryRoomLocker() *MemoryRoomLocker {
	return &MemoryRoomLocker{}
}

func (l *MemoryRoomLocker) LockRoom(ctx context.Context, roomID int64) (func(), error) {
	v, _ := l.locks.LoadOrStore(roomID, make(chan struct{}, 1))
	slot := v.(chan struct{})

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock room %d: %w", roomID, ctx.Err())
	}
}
