package api

import (
	"context"
	"time"

	"kostbook/internal/models"
)

// Engine is the part of service.Engine the transports use.
type Engine interface {
	QueryAvailableRooms(ctx context.Context, kostID int64, start, end time.Time) ([]models.Room, error)
	CreateBooking(ctx context.Context, session models.Session, kostID, roomID int64, start time.Time, durationHours int) (*models.Booking, error)
	ResolveByCheckinCode(ctx context.Context, code string) (*models.Booking, error)
	CheckIn(ctx context.Context, code string) (*models.Booking, error)
	TransitionBooking(ctx context.Context, session models.Session, bookingID int64, action models.Action) (*models.Booking, error)
	SweepExpired(ctx context.Context) (int, error)

	GetBooking(ctx context.Context, session models.Session, id int64) (*models.Booking, error)
	ListUserBookings(ctx context.Context, session models.Session, status models.Status) ([]models.Booking, error)
	GetActiveBooking(ctx context.Context, session models.Session) (*models.Booking, error)
	ListOwnerBookings(ctx context.Context, session models.Session) ([]models.Booking, error)
	ListOwnerKosts(ctx context.Context, session models.Session) ([]models.Kost, error)
	ListOwnerRooms(ctx context.Context, session models.Session) ([]models.Room, error)
	SetRoomStatus(ctx context.Context, session models.Session, roomID int64, status models.RoomStatus) (*models.Room, error)
	UpdateKost(ctx context.Context, session models.Session, kostID int64, update models.KostUpdate) (*models.Kost, error)
	Now() time.Time
}
