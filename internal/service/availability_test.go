package service

import (
	"context"
	"testing"

	"kostbook/internal/domain"
	"kostbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryAvailableValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.QueryAvailableRooms(ctx, kostID, at(12, 0), at(10, 0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.QueryAvailableRooms(ctx, kostID, at(10, 0), at(10, 0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.QueryAvailableRooms(ctx, kostID, at(10, 0), at(11, 0))
	assert.ErrorIs(t, err, domain.ErrValidation, "shorter than the kost minimum")

	_, err = f.engine.QueryAvailableRooms(ctx, 99, at(10, 0), at(12, 0))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.QueryAvailableRooms(ctx, 2, at(10, 0), at(12, 0))
	assert.ErrorIs(t, err, domain.ErrNotFound, "inactive kost")
}

func TestQueryAvailableExcludesBookedAndMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book(t, f, renter1, roomR, 10, 2)

	rooms, err := f.engine.QueryAvailableRooms(ctx, kostID, at(11, 0), at(13, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{roomS}, roomIDs(rooms))

	// half-open: the booking ends exactly when the window starts
	rooms, err = f.engine.QueryAvailableRooms(ctx, kostID, at(12, 0), at(14, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{roomR, roomS}, roomIDs(rooms))
}

func TestMaintenanceToggleAffectsAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SetRoomStatus(ctx, owner(), roomS, models.RoomMaintenance)
	require.NoError(t, err)
	rooms, err := f.engine.QueryAvailableRooms(ctx, kostID, at(10, 0), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{roomR}, roomIDs(rooms))

	_, err = f.engine.CreateBooking(ctx, renter(renter1), kostID, roomS, at(10, 0), 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.SetRoomStatus(ctx, owner(), roomMain, models.RoomAvailable)
	require.NoError(t, err)
	rooms, err = f.engine.QueryAvailableRooms(ctx, kostID, at(10, 0), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{roomR, roomMain}, roomIDs(rooms))
}

func TestSortRooms(t *testing.T) {
	rooms := []models.Room{
		{ID: 6, Number: "B2"},
		{ID: 1, Number: "10"},
		{ID: 2, Number: "9"},
		{ID: 5, Number: "A1"},
		{ID: 4, Number: "9"},
		{ID: 3, Number: "101"},
	}
	SortRooms(rooms)
	assert.Equal(t, []int64{2, 4, 1, 3, 5, 6}, roomIDs(rooms))
}
