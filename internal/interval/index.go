// Package interval keeps, per room, the time windows held by non-terminal bookings.
package interval

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one held window [Start, End).
type Entry struct {
	BookingID int64
	RoomID    int64
	Start     time.Time
	End       time.Time
}

type roomSet struct {
	entries atomic.Pointer[[]Entry]
}

func (r *roomSet) load() []Entry {
	p := r.entries.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Index answers overlap queries without locking. Writers copy the room's slice,
// so a reader always sees a consistent snapshot of one room.
type Index struct {
	rooms sync.Map // map[int64]*roomSet
	mu    sync.Mutex
}

func New() *Index {
	return &Index{}
}

func (ix *Index) room(roomID int64) *roomSet {
	if v, ok := ix.rooms.Load(roomID); ok {
		return v.(*roomSet)
	}
	v, _ := ix.rooms.LoadOrStore(roomID, &roomSet{})
	return v.(*roomSet)
}

// Overlaps reports whether any held window intersects [start, end).
func (ix *Index) Overlaps(roomID int64, start, end time.Time) bool {
	v, ok := ix.rooms.Load(roomID)
	if !ok {
		return false
	}
	entries := v.(*roomSet).load()
	// sorted by Start: nothing at or after end can overlap
	n := sort.Search(len(entries), func(i int) bool { return !entries[i].Start.Before(end) })
	for i := 0; i < n; i++ {
		if entries[i].End.After(start) {
			return true
		}
	}
	return false
}

// Insert adds or replaces the window for bookingID.
func (ix *Index) Insert(roomID, bookingID int64, start, end time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rs := ix.room(roomID)
	old := rs.load()
	next := make([]Entry, 0, len(old)+1)
	for _, e := range old {
		if e.BookingID != bookingID {
			next = append(next, e)
		}
	}
	next = append(next, Entry{BookingID: bookingID, RoomID: roomID, Start: start, End: end})
	sortEntries(next)
	rs.entries.Store(&next)
}

// Remove drops bookingID from the room. Missing ids are ignored.
func (ix *Index) Remove(roomID, bookingID int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	v, ok := ix.rooms.Load(roomID)
	if !ok {
		return
	}
	rs := v.(*roomSet)
	old := rs.load()
	next := make([]Entry, 0, len(old))
	for _, e := range old {
		if e.BookingID != bookingID {
			next = append(next, e)
		}
	}
	if len(next) == len(old) {
		return
	}
	rs.entries.Store(&next)
}

// ReplaceRoom swaps the room's windows for entries, which must all belong to
// roomID. Used to resync one room from storage.
func (ix *Index) ReplaceRoom(roomID int64, entries []Entry) {
	next := make([]Entry, len(entries))
	copy(next, entries)
	sortEntries(next)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.room(roomID).entries.Store(&next)
}

// Load replaces the whole index. Used at startup from storage.
func (ix *Index) Load(entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	grouped := make(map[int64][]Entry)
	for _, e := range entries {
		grouped[e.RoomID] = append(grouped[e.RoomID], e)
	}

	ix.rooms.Range(func(key, _ any) bool {
		if _, ok := grouped[key.(int64)]; !ok {
			ix.rooms.Delete(key)
		}
		return true
	})
	for roomID, list := range grouped {
		sortEntries(list)
		ix.room(roomID).entries.Store(&list)
	}
}

// Entries returns a snapshot of the room's windows ordered by start.
func (ix *Index) Entries(roomID int64) []Entry {
	v, ok := ix.rooms.Load(roomID)
	if !ok {
		return nil
	}
	entries := v.(*roomSet).load()
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func (ix *Index) Len(roomID int64) int {
	v, ok := ix.rooms.Load(roomID)
	if !ok {
		return 0
	}
	return len(v.(*roomSet).load())
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start.Equal(list[j].Start) {
			return list[i].BookingID < list[j].BookingID
		}
		return list[i].Start.Before(list[j].Start)
	})
}
