package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/interval"
	"kostbook/internal/models"
)

// AvailabilityResolver answers "which rooms are free" from the interval index,
// after resyncing the kost's rooms from storage. The answer is advisory; only
// the ledger decides admission.
type AvailabilityResolver struct {
	catalog *Catalog
	repo    domain.BookingRepository
	index   *interval.Index
}

func NewAvailabilityResolver(catalog *Catalog, repo domain.BookingRepository, index *interval.Index) *AvailabilityResolver {
	return &AvailabilityResolver{catalog: catalog, repo: repo, index: index}
}

func (r *AvailabilityResolver) QueryAvailable(ctx context.Context, kostID int64, start, end time.Time) ([]models.Room, error) {
	if start.IsZero() || end.IsZero() {
		return nil, domain.Invalid("window", "start and end are required")
	}
	if !start.Before(end) {
		return nil, domain.Invalid("end_time", "must be after start_time")
	}

	kost, err := r.catalog.ActiveKost(ctx, kostID)
	if err != nil {
		return nil, err
	}
	minDur := time.Duration(kost.MinDurationHours) * time.Hour
	if end.Sub(start) < minDur {
		return nil, domain.Invalid("window", fmt.Sprintf("must be at least %d hours", kost.MinDurationHours))
	}

	rooms, err := r.catalog.Rooms(ctx, kostID)
	if err != nil {
		return nil, err
	}

	if err := r.syncRooms(ctx, kostID, rooms); err != nil {
		return nil, err
	}

	free := make([]models.Room, 0, len(rooms))
	for i := range rooms {
		if !rooms[i].Operable() {
			continue
		}
		if r.index.Overlaps(rooms[i].ID, start, end) {
			continue
		}
		free = append(free, rooms[i])
	}
	SortRooms(free)
	return free, nil
}

func (r *AvailabilityResolver) syncRooms(ctx context.Context, kostID int64, rooms []models.Room) error {
	live, err := r.repo.ListLiveKostBookings(ctx, kostID)
	if err != nil {
		return fmt.Errorf("load bookings of kost %d: %w", kostID, err)
	}
	byRoom := make(map[int64][]interval.Entry, len(rooms))
	for _, e := range intervalEntries(live) {
		byRoom[e.RoomID] = append(byRoom[e.RoomID], e)
	}
	for i := range rooms {
		r.index.ReplaceRoom(rooms[i].ID, byRoom[rooms[i].ID])
	}
	return nil
}

// SortRooms orders by room number: numeric numbers first by value, then the
// rest lexically, ties broken by id.
func SortRooms(rooms []models.Room) {
	slices.SortStableFunc(rooms, func(a, b models.Room) int {
		na, errA := strconv.Atoi(a.Number)
		nb, errB := strconv.Atoi(b.Number)
		switch {
		case errA == nil && errB == nil:
			if c := cmp.Compare(na, nb); c != 0 {
				return c
			}
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		}
		if c := cmp.Compare(a.Number, b.Number); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
