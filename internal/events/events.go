package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"kostbook/internal/models"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingCheckedIn = "booking_checked_in"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"
)

// BookingEventTypes lists every lifecycle event in emission order.
var BookingEventTypes = []string{
	EventBookingCreated,
	EventBookingCheckedIn,
	EventBookingCompleted,
	EventBookingCancelled,
}

// EventForStatus maps the status a booking just entered to its event type.
func EventForStatus(s models.Status) string {
	switch s {
	case models.StatusBooked:
		return EventBookingCreated
	case models.StatusActive:
		return EventBookingCheckedIn
	case models.StatusCompleted:
		return EventBookingCompleted
	case models.StatusCancelled:
		return EventBookingCancelled
	default:
		return ""
	}
}

// BookingEventPayload is the booking snapshot sent to consumers. The check-in
// code never leaves the process.
type BookingEventPayload struct {
	BookingID   int64         `json:"booking_id"`
	BookingCode string        `json:"booking_code"`
	UserID      int64         `json:"user_id"`
	KostID      int64         `json:"kost_id"`
	RoomID      int64         `json:"room_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	TotalPrice  int64         `json:"total_price"`
	Status      models.Status `json:"status"`
	PrevStatus  models.Status `json:"prev_status,omitempty"`
	ChangedBy   models.Role   `json:"changed_by,omitempty"`
	ChangedByID int64         `json:"changed_by_id,omitempty"`
}

// NewBookingPayload snapshots b. prev is empty for creation.
func NewBookingPayload(b *models.Booking, prev models.Status, by models.Session) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		BookingCode: b.BookingCode,
		UserID:      b.UserID,
		KostID:      b.KostID,
		RoomID:      b.RoomID,
		StartTime:   b.StartTime,
		EndTime:     b.EndTime,
		TotalPrice:  b.TotalPrice,
		Status:      b.Status,
		PrevStatus:  prev,
		ChangedBy:   by.Role,
		ChangedByID: by.UserID,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler for the event type, in subscription order.
// A failing handler does not stop the rest; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
