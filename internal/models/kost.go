package models

import "time"

type Kost struct {
	ID               int64     `yaml:"id" json:"id"`
	OwnerID          int64     `yaml:"owner_id" json:"owner_id"`
	Name             string    `yaml:"name" json:"name"`
	Address          string    `yaml:"address" json:"address"`
	City             string    `yaml:"city" json:"city"`
	PricePerHour     int64     `yaml:"price_per_hour" json:"price_per_hour"`
	MinDurationHours int       `yaml:"min_duration_hours" json:"min_duration_hours"`
	IsActive         bool      `yaml:"is_active" json:"is_active"`
	Rooms            []Room    `yaml:"rooms" json:"-"`
	CreatedAt        time.Time `yaml:"-" json:"created_at"`
	UpdatedAt        time.Time `yaml:"-" json:"updated_at"`
}

// KostUpdate is an owner edit of a kost. Nil fields are left unchanged.
// Existing bookings keep the price they were admitted at.
type KostUpdate struct {
	PricePerHour     *int64 `json:"price_per_hour,omitempty"`
	MinDurationHours *int   `json:"min_duration_hours,omitempty"`
	IsActive         *bool  `json:"is_active,omitempty"`
}

func (u KostUpdate) Empty() bool {
	return u.PricePerHour == nil && u.MinDurationHours == nil && u.IsActive == nil
}

// Apply returns k with the update's fields set.
func (u KostUpdate) Apply(k Kost) Kost {
	if u.PricePerHour != nil {
		k.PricePerHour = *u.PricePerHour
	}
	if u.MinDurationHours != nil {
		k.MinDurationHours = *u.MinDurationHours
	}
	if u.IsActive != nil {
		k.IsActive = *u.IsActive
	}
	return k
}

type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomMaintenance RoomStatus = "maintenance"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomAvailable, RoomMaintenance:
		return true
	default:
		return false
	}
}

type Room struct {
	ID     int64      `yaml:"id" json:"id"`
	KostID int64      `yaml:"-" json:"kost_id"`
	Number string     `yaml:"number" json:"room_number"`
	Type   string     `yaml:"type" json:"room_type"`
	Status RoomStatus `yaml:"status" json:"status"`
}

// Operable rooms can be offered and booked.
func (r *Room) Operable() bool {
	return r.Status == RoomAvailable
}
