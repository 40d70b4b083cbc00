package domain

import (
	"context"
	"time"

	"kostbook/internal/models"
)

type KostRepository interface {
	GetKost(ctx context.Context, id int64) (*models.Kost, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context, kostID int64) ([]models.Room, error)
	ListKostsByOwner(ctx context.Context, ownerID int64) ([]models.Kost, error)
	UpdateRoomStatus(ctx context.Context, roomID int64, status models.RoomStatus) error
	UpdateKost(ctx context.Context, kost *models.Kost) error
}

type BookingRepository interface {
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByCheckinCode(ctx context.Context, code string) (*models.Booking, error)
	UpdateBookingStatusCAS(ctx context.Context, id int64, from, to models.Status, at time.Time) error
	ListNonTerminalBookings(ctx context.Context) ([]models.Booking, error)
	ListLiveRoomBookings(ctx context.Context, roomID int64) ([]models.Booking, error)
	ListLiveKostBookings(ctx context.Context, kostID int64) ([]models.Booking, error)
	ListExpiredBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	ListUserBookings(ctx context.Context, userID int64, status models.Status) ([]models.Booking, error)
	GetActiveBooking(ctx context.Context, userID int64, now time.Time) (*models.Booking, error)
	ListOwnerBookings(ctx context.Context, ownerID int64) ([]models.Booking, error)
}

// Repository is everything the engine needs from storage.
type Repository interface {
	KostRepository
	BookingRepository
}

// RoomLocker serializes admissions per room. The returned unlock must be called exactly once.
type RoomLocker interface {
	LockRoom(ctx context.Context, roomID int64) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
	ReplaceAll(ctx context.Context, bookings []models.Booking) error
}
