package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/models"
)

const bookingColumns = `id, user_id, kost_id, room_id, start_time, end_time, duration_hours,
	price_per_hour, total_price, status, booking_code, checkin_code, checked_in_at, closed_at,
	created_at, updated_at, version`

// liveStatus matches bookings that still hold their room.
var liveStatus, liveStatusArgs = statusIn(models.NonTerminalStatuses)

func statusIn(statuses []models.Status) (string, []any) {
	args := make([]any, len(statuses))
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		args[i] = st
		marks[i] = "?"
	}
	return "status IN (" + strings.Join(marks, ", ") + ")", args
}

// withLive prefixes args with the liveStatus placeholders.
func withLive(args ...any) []any {
	return append(append([]any(nil), liveStatusArgs...), args...)
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		start, end  int64
		checkedInAt sql.NullTime
		closedAt    sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.KostID, &b.RoomID, &start, &end, &b.DurationHours,
		&b.PricePerHour, &b.TotalPrice, &b.Status, &b.BookingCode, &b.CheckinCode, &checkedInAt, &closedAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.StartTime = time.Unix(start, 0).UTC()
	b.EndTime = time.Unix(end, 0).UTC()
	if checkedInAt.Valid {
		t := checkedInAt.Time.UTC()
		b.CheckedInAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		b.ClosedAt = &t
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	defer rows.Close()
	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// CreateBookingWithLock re-checks the room inside one transaction and inserts.
// Returns ErrNotFound for a missing or inoperable room, ErrRoomUnavailable on
// overlap and ErrConcurrencyConflict for transient store failures and code collisions.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Room must exist, belong to the kost and be operable
	var roomStatus models.RoomStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM rooms WHERE id = ? AND kost_id = ?`,
		booking.RoomID, booking.KostID).Scan(&roomStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("room", booking.RoomID)
	}
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to load room in tx: %w", err))
	}
	if roomStatus != models.RoomAvailable {
		return fmt.Errorf("room %d is under maintenance: %w", booking.RoomID, domain.ErrNotFound)
	}

	// 2. No overlapping non-terminal booking
	var overlapping int
	err = tx.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM bookings
        WHERE `+liveStatus+` AND room_id = ? AND start_time < ? AND end_time > ?`,
		withLive(booking.RoomID, booking.EndTime.Unix(), booking.StartTime.Unix())...,
	).Scan(&overlapping)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to check overlap in tx: %w", err))
	}
	if overlapping > 0 {
		return domain.ErrRoomUnavailable
	}

	// 3. Codes unused
	var used int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE booking_code = ? OR checkin_code = ?`,
		booking.BookingCode, booking.CheckinCode).Scan(&used)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to check codes in tx: %w", err))
	}
	if used > 0 {
		return fmt.Errorf("%w: code collision", domain.ErrConcurrencyConflict)
	}

	// 4. Insert
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
        INSERT INTO bookings (
            user_id, kost_id, room_id, start_time, end_time, duration_hours, price_per_hour,
            total_price, status, booking_code, checkin_code, created_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.UserID,
		booking.KostID,
		booking.RoomID,
		booking.StartTime.Unix(),
		booking.EndTime.Unix(),
		booking.DurationHours,
		booking.PricePerHour,
		booking.TotalPrice,
		models.StatusBooked,
		booking.BookingCode,
		booking.CheckinCode,
		now,
		now,
		1,
	)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to insert booking in tx: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return mapWriteError(fmt.Errorf("failed to commit booking: %w", err))
	}

	booking.ID = id
	booking.Status = models.StatusBooked
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) GetBookingByCheckinCode(ctx context.Context, code string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE checkin_code = ?`, code)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("booking with code", "***")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by code: %w", err)
	}
	return b, nil
}

// UpdateBookingStatusCAS moves a booking from -> to only if it is still in from.
// ErrConcurrencyConflict means zero rows matched.
func (db *DB) UpdateBookingStatusCAS(ctx context.Context, id int64, from, to models.Status, at time.Time) error {
	at = at.UTC()
	var query string
	switch to {
	case models.StatusActive:
		query = `UPDATE bookings SET status = ?, checked_in_at = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`
	case models.StatusCompleted, models.StatusCancelled:
		query = `UPDATE bookings SET status = ?, closed_at = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`
	case models.StatusBooked:
		return fmt.Errorf("%w: cannot move back to %s", domain.ErrInvalidTransition, to)
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}

	result, err := db.ExecContext(ctx, query, to, at, at, id, from)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to update booking status: %w", err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (db *DB) ListNonTerminalBookings(ctx context.Context) ([]models.Booking, error) {
	return db.listBookings(ctx, "non-terminal", `WHERE `+liveStatus+` ORDER BY room_id, start_time`, liveStatusArgs...)
}

// ListLiveRoomBookings returns the bookings currently holding the room.
func (db *DB) ListLiveRoomBookings(ctx context.Context, roomID int64) ([]models.Booking, error) {
	return db.listBookings(ctx, "live room", `WHERE `+liveStatus+` AND room_id = ? ORDER BY start_time`, withLive(roomID)...)
}

// ListLiveKostBookings returns the bookings holding any room of the kost.
func (db *DB) ListLiveKostBookings(ctx context.Context, kostID int64) ([]models.Booking, error) {
	return db.listBookings(ctx, "live kost", `WHERE `+liveStatus+` AND kost_id = ? ORDER BY room_id, start_time`, withLive(kostID)...)
}

// ListExpiredBookings returns non-terminal bookings whose window has ended.
func (db *DB) ListExpiredBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	return db.listBookings(ctx, "expired", `WHERE `+liveStatus+` AND end_time <= ? ORDER BY end_time`, withLive(now.Unix())...)
}

// ListAllBookings returns every booking in id order.
func (db *DB) ListAllBookings(ctx context.Context) ([]models.Booking, error) {
	return db.listBookings(ctx, "all", `ORDER BY id`)
}

func (db *DB) listBookings(ctx context.Context, what, where string, args ...any) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s bookings: %w", what, err)
	}
	return scanBookings(rows)
}

// ListUserBookings returns the renter's bookings, newest first. Empty status means all.
func (db *DB) ListUserBookings(ctx context.Context, userID int64, status models.Status) ([]models.Booking, error) {
	var (
		sb   strings.Builder
		args = []any{userID}
	)
	sb.WriteString(`SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ?`)
	if status != "" {
		sb.WriteString(` AND status = ?`)
		args = append(args, status)
	}
	sb.WriteString(` ORDER BY start_time DESC, id DESC`)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}
	return scanBookings(rows)
}

// GetActiveBooking returns the stay in progress or, failing that, the next upcoming one.
func (db *DB) GetActiveBooking(ctx context.Context, userID int64, now time.Time) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
        SELECT `+bookingColumns+` FROM bookings
        WHERE `+liveStatus+` AND user_id = ? AND end_time > ?
        ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, start_time
        LIMIT 1`,
		withLive(userID, now.Unix(), models.StatusActive)...)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("active booking for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active booking: %w", err)
	}
	return b, nil
}

func (db *DB) ListOwnerBookings(ctx context.Context, ownerID int64) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT b.id, b.user_id, b.kost_id, b.room_id, b.start_time, b.end_time, b.duration_hours,
               b.price_per_hour, b.total_price, b.status, b.booking_code, b.checkin_code, b.checked_in_at,
               b.closed_at, b.created_at, b.updated_at, b.version
        FROM bookings b
        JOIN kosts k ON k.id = b.kost_id
        WHERE k.owner_id = ?
        ORDER BY b.start_time DESC, b.id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner bookings: %w", err)
	}
	return scanBookings(rows)
}
