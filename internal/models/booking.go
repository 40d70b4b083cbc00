package models

import "time"

type Booking struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	KostID        int64      `json:"kost_id"`
	RoomID        int64      `json:"room_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	DurationHours int        `json:"duration_hours"`
	PricePerHour  int64      `json:"price_per_hour"`
	TotalPrice    int64      `json:"total_price"`
	Status        Status     `json:"status"`
	BookingCode   string     `json:"booking_code"`
	CheckinCode   string     `json:"checkin_code,omitempty"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`
}

// Overlaps uses half-open intervals: [10:00,12:00) and [12:00,14:00) do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// WithoutSecret returns a copy safe to show to anyone but the renter.
func (b Booking) WithoutSecret() Booking {
	b.CheckinCode = ""
	return b
}

// TimeRemaining is the countdown shown for an active stay, clamped at zero.
func TimeRemaining(now, end time.Time) time.Duration {
	if !end.After(now) {
		return 0
	}
	return end.Sub(now)
}
