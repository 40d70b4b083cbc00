package interval

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func TestOverlapsHalfOpen(t *testing.T) {
	ix := New()
	ix.Insert(1, 100, at(10), at(12))

	assert.True(t, ix.Overlaps(1, at(11), at(13)))
	assert.True(t, ix.Overlaps(1, at(9), at(11)))
	assert.True(t, ix.Overlaps(1, at(10), at(12)))
	assert.True(t, ix.Overlaps(1, at(8), at(14)))
	assert.False(t, ix.Overlaps(1, at(12), at(14)))
	assert.False(t, ix.Overlaps(1, at(8), at(10)))
	assert.False(t, ix.Overlaps(2, at(10), at(12)), "other room is independent")
}

func TestInsertRemove(t *testing.T) {
	ix := New()
	ix.Insert(1, 100, at(10), at(12))
	ix.Insert(1, 101, at(14), at(16))
	require.Equal(t, 2, ix.Len(1))

	ix.Remove(1, 100)
	assert.Equal(t, 1, ix.Len(1))
	assert.False(t, ix.Overlaps(1, at(10), at(12)))
	assert.True(t, ix.Overlaps(1, at(15), at(17)))

	ix.Remove(1, 999)
	ix.Remove(7, 100)
	assert.Equal(t, 1, ix.Len(1))
}

func TestInsertSameBookingReplaces(t *testing.T) {
	ix := New()
	ix.Insert(1, 100, at(10), at(12))
	ix.Insert(1, 100, at(10), at(12))
	assert.Equal(t, 1, ix.Len(1))
}

func TestEntriesSorted(t *testing.T) {
	ix := New()
	ix.Insert(1, 3, at(20), at(22))
	ix.Insert(1, 1, at(2), at(4))
	ix.Insert(1, 2, at(10), at(12))

	entries := ix.Entries(1)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].BookingID)
	assert.Equal(t, int64(2), entries[1].BookingID)
	assert.Equal(t, int64(3), entries[2].BookingID)
}

func TestLoadReplaces(t *testing.T) {
	ix := New()
	ix.Insert(5, 50, at(1), at(2))

	ix.Load([]Entry{
		{BookingID: 1, RoomID: 1, Start: at(10), End: at(12)},
		{BookingID: 2, RoomID: 2, Start: at(10), End: at(12)},
	})

	assert.Equal(t, 0, ix.Len(5))
	assert.True(t, ix.Overlaps(1, at(11), at(12)))
	assert.True(t, ix.Overlaps(2, at(11), at(12)))
}

func TestReplaceRoom(t *testing.T) {
	ix := New()
	ix.Insert(1, 10, at(10), at(12))
	ix.Insert(2, 20, at(10), at(12))

	stored := []Entry{
		{BookingID: 12, RoomID: 1, Start: at(16), End: at(18)},
		{BookingID: 11, RoomID: 1, Start: at(13), End: at(15)},
	}
	ix.ReplaceRoom(1, stored)
	stored[0].Start = at(0)

	assert.False(t, ix.Overlaps(1, at(10), at(12)), "stale window dropped")
	entries := ix.Entries(1)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(11), entries[0].BookingID)
	assert.Equal(t, at(16), entries[1].Start, "caller slice is not aliased")
	assert.True(t, ix.Overlaps(2, at(11), at(12)), "other rooms untouched")

	ix.ReplaceRoom(1, nil)
	assert.Zero(t, ix.Len(1))
}

// brute force reference
func overlapsAny(entries []Entry, start, end time.Time) bool {
	for _, e := range entries {
		if e.Start.Before(end) && e.End.After(start) {
			return true
		}
	}
	return false
}

func TestOverlapsMatchesBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	ix := New()
	var held []Entry

	for i := 0; i < 200; i++ {
		s := rnd.Intn(200)
		d := 1 + rnd.Intn(8)
		if !overlapsAny(held, at(s), at(s+d)) {
			ix.Insert(1, int64(i), at(s), at(s+d))
			held = append(held, Entry{BookingID: int64(i), RoomID: 1, Start: at(s), End: at(s + d)})
		}
	}

	for i := 0; i < 500; i++ {
		s := rnd.Intn(210)
		d := 1 + rnd.Intn(10)
		assert.Equal(t, overlapsAny(held, at(s), at(s+d)), ix.Overlaps(1, at(s), at(s+d)))
	}

	entries := ix.Entries(1)
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			assert.False(t, entries[i].Start.Before(entries[j].End) && entries[i].End.After(entries[j].Start),
				"stored windows %d and %d overlap", entries[i].BookingID, entries[j].BookingID)
		}
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ix := New()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := int64(w*1000 + i)
				ix.Insert(int64(w), id, at(i), at(i+1))
				if i%2 == 0 {
					ix.Remove(int64(w), id)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = ix.Overlaps(int64(i%4), at(i%100), at(i%100+1))
			}
		}()
	}
	wg.Wait()

	for w := 0; w < 4; w++ {
		assert.Equal(t, 50, ix.Len(int64(w)))
	}
}
