package database

import (
	"context"
	"testing"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBookingWithLock(t *testing.T) {
	db := setupTestDB(t)
	seedKost(t, db)
	ctx := context.Background()

	first := newBooking(1, 10, 10, 2, "A")
	require.NoError(t, db.CreateBookingWithLock(ctx, first))
	assert.NotZero(t, first.ID)
	assert.Equal(t, models.StatusBooked, first.Status)
	assert.Equal(t, int64(1), first.Version)

	t.Run("OverlapRejected", func(t *testing.T) {
		err := db.CreateBookingWithLock(ctx, newBooking(2, 10, 11, 2, "B"))
		assert.ErrorIs(t, err, domain.ErrRoomUnavailable)
	})

	t.Run("AdjacentAccepted", func(t *testing.T) {
		require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(2, 10, 12, 2, "C")))
	})

	t.Run("OtherRoomAccepted", func(t *testing.T) {
		require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(3, 11, 10, 2, "D")))
	})

	t.Run("CodeCollisionIsConflict", func(t *testing.T) {
		err := db.CreateBookingWithLock(ctx, newBooking(4, 11, 20, 2, "A"))
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	})

	t.Run("RoomOfOtherKost", func(t *testing.T) {
		b := newBooking(4, 10, 20, 2, "E")
		b.KostID = 2
		assert.ErrorIs(t, db.CreateBookingWithLock(ctx, b), domain.ErrNotFound)
	})

	t.Run("MaintenanceRoom", func(t *testing.T) {
		require.NoError(t, db.UpdateRoomStatus(ctx, 11, models.RoomMaintenance))
		err := db.CreateBookingWithLock(ctx, newBooking(4, 11, 30, 2, "F"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	got, err := db.GetBooking(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(first.StartTime))
	assert.True(t, got.EndTime.Equal(first.EndTime))
	assert.Equal(t, int64(30000), got.TotalPrice)
	assert.Equal(t, "KB-A", got.BookingCode)

	byCode, err := db.GetBookingByCheckinCode(ctx, "chk-A")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byCode.ID)

	_, err = db.GetBookingByCheckinCode(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelledBookingFreesWindow(t *testing.T) {
	db := setupTestDB(t)
	seedKost(t, db)
	ctx := context.Background()

	b := newBooking(1, 10, 10, 2, "A")
	require.NoError(t, db.CreateBookingWithLock(ctx, b))
	require.NoError(t, db.UpdateBookingStatusCAS(ctx, b.ID, models.StatusBooked, models.StatusCancelled, time.Now()))

	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(2, 10, 10, 2, "B")))
}

func TestUpdateBookingStatusCAS(t *testing.T) {
	db := setupTestDB(t)
	seedKost(t, db)
	ctx := context.Background()

	b := newBooking(1, 10, 10, 2, "A")
	require.NoError(t, db.CreateBookingWithLock(ctx, b))

	checkin := day.Add(9*time.Hour + 50*time.Minute)
	require.NoError(t, db.UpdateBookingStatusCAS(ctx, b.ID, models.StatusBooked, models.StatusActive, checkin))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.CheckedInAt)
	assert.True(t, got.CheckedInAt.Equal(checkin))
	assert.Nil(t, got.ClosedAt)

	// stale from-status loses
	err = db.UpdateBookingStatusCAS(ctx, b.ID, models.StatusBooked, models.StatusCancelled, time.Now())
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	require.NoError(t, db.UpdateBookingStatusCAS(ctx, b.ID, models.StatusActive, models.StatusCompleted, day.Add(12*time.Hour)))
	got, err = db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ClosedAt)

	err = db.UpdateBookingStatusCAS(ctx, b.ID, models.StatusCompleted, models.StatusBooked, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBookingListings(t *testing.T) {
	db := setupTestDB(t)
	seedKost(t, db)
	ctx := context.Background()

	a := newBooking(1, 10, 10, 2, "A")
	b := newBooking(1, 10, 14, 2, "B")
	c := newBooking(2, 11, 10, 4, "C")
	for _, bk := range []*models.Booking{a, b, c} {
		require.NoError(t, db.CreateBookingWithLock(ctx, bk))
	}
	require.NoError(t, db.UpdateBookingStatusCAS(ctx, a.ID, models.StatusBooked, models.StatusActive, day.Add(10*time.Hour)))

	t.Run("UserAll", func(t *testing.T) {
		list, err := db.ListUserBookings(ctx, 1, "")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, b.ID, list[0].ID, "newest first")
	})

	t.Run("UserFiltered", func(t *testing.T) {
		list, err := db.ListUserBookings(ctx, 1, models.StatusActive)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.ID, list[0].ID)
	})

	t.Run("ActivePrefersInProgress", func(t *testing.T) {
		got, err := db.GetActiveBooking(ctx, 1, day.Add(11*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)

		got, err = db.GetActiveBooking(ctx, 2, day.Add(9*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)

		_, err = db.GetActiveBooking(ctx, 3, day)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Owner", func(t *testing.T) {
		list, err := db.ListOwnerBookings(ctx, 900)
		require.NoError(t, err)
		assert.Len(t, list, 3)

		list, err = db.ListOwnerBookings(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("NonTerminal", func(t *testing.T) {
		list, err := db.ListNonTerminalBookings(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})

	t.Run("LiveByRoomAndKost", func(t *testing.T) {
		d := newBooking(3, 10, 18, 2, "D")
		require.NoError(t, db.CreateBookingWithLock(ctx, d))
		require.NoError(t, db.UpdateBookingStatusCAS(ctx, d.ID, models.StatusBooked, models.StatusCancelled, day))

		room, err := db.ListLiveRoomBookings(ctx, 10)
		require.NoError(t, err)
		require.Len(t, room, 2, "cancelled booking excluded")
		assert.Equal(t, a.ID, room[0].ID)
		assert.Equal(t, b.ID, room[1].ID)

		kost, err := db.ListLiveKostBookings(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, kost, 3)

		none, err := db.ListLiveKostBookings(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := db.ListAllBookings(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, d.ID, all[3].ID)
		assert.Equal(t, models.StatusCancelled, all[3].Status)
	})

	t.Run("Expired", func(t *testing.T) {
		list, err := db.ListExpiredBookings(ctx, day.Add(12*time.Hour))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.ID, list[0].ID)

		list, err = db.ListExpiredBookings(ctx, day.Add(16*time.Hour))
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})
}
