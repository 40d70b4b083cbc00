package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/events"
	"kostbook/internal/interval"
	"kostbook/internal/metrics"
	"kostbook/internal/models"
	"kostbook/internal/worker"

	"github.com/rs/zerolog"
)

// LedgerConfig bounds what the ledger will admit.
type LedgerConfig struct {
	MaxDurationHours int
	MaxAdvanceDays   int
	MaxRetries       int
	LockTimeout      time.Duration
	Retry            worker.RetryPolicy
}

func (c *LedgerConfig) applyDefaults() {
	if c.MaxDurationHours <= 0 {
		c.MaxDurationHours = models.DefaultMaxDurationHours
	}
	if c.MaxAdvanceDays <= 0 {
		c.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = models.DefaultLockTimeout
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 10 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 200 * time.Millisecond
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 0.2
	}
	c.Retry.MaxRetries = c.MaxRetries
}

// Ledger is the only writer of new bookings.
//
// Admission for a room runs under the room lock: the room's windows are
// reloaded from the store into the index, the index rejects overlaps, then the
// store re-checks and inserts in one transaction. The index learns about the
// booking only after commit.
type Ledger struct {
	repo    domain.BookingRepository
	catalog *Catalog
	index   *interval.Index
	locker  domain.RoomLocker
	codes   *CodeIssuer
	events  domain.EventPublisher
	sync    domain.SyncWorker
	cfg     LedgerConfig
	now     func() time.Time
	logger  *zerolog.Logger
}

func NewLedger(
	repo domain.BookingRepository,
	catalog *Catalog,
	index *interval.Index,
	locker domain.RoomLocker,
	codes *CodeIssuer,
	publisher domain.EventPublisher,
	syncWorker domain.SyncWorker,
	cfg LedgerConfig,
	logger *zerolog.Logger,
) *Ledger {
	cfg.applyDefaults()
	return &Ledger{
		repo:    repo,
		catalog: catalog,
		index:   index,
		locker:  locker,
		codes:   codes,
		events:  publisher,
		sync:    syncWorker,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

func (l *Ledger) validate(session models.Session, start time.Time, durationHours int) error {
	if session.UserID <= 0 {
		return domain.Invalid("user_id", "is required")
	}
	if start.IsZero() {
		return domain.Invalid("start_time", "is required")
	}
	if durationHours < 1 {
		return domain.Invalid("duration_hours", "must be at least 1")
	}
	if durationHours > l.cfg.MaxDurationHours {
		return domain.Invalid("duration_hours", fmt.Sprintf("must be at most %d", l.cfg.MaxDurationHours))
	}

	now := l.now()
	if start.Before(now.Add(-models.AllowedClockSkew)) {
		return domain.Invalid("start_time", "is in the past")
	}
	if start.After(now.AddDate(0, 0, l.cfg.MaxAdvanceDays)) {
		return domain.Invalid("start_time", fmt.Sprintf("is more than %d days ahead", l.cfg.MaxAdvanceDays))
	}
	return nil
}

// Create admits a booking for [start, start+durationHours) or rejects it.
// The returned booking carries the check-in code; it is the only time the
// renter receives it outside their own booking reads.
func (l *Ledger) Create(ctx context.Context, session models.Session, kostID, roomID int64, start time.Time, durationHours int) (*models.Booking, error) {
	if !session.CanRent() {
		return nil, fmt.Errorf("%w: role %s cannot book rooms", domain.ErrForbidden, session.Role)
	}
	// storage keeps whole seconds
	start = start.UTC().Truncate(time.Second)
	if err := l.validate(session, start, durationHours); err != nil {
		l.reject("validation")
		return nil, err
	}

	kost, err := l.catalog.ActiveKost(ctx, kostID)
	if err != nil {
		l.reject("not_found")
		return nil, err
	}
	if durationHours < kost.MinDurationHours {
		l.reject("validation")
		return nil, domain.Invalid("duration_hours", fmt.Sprintf("must be at least %d for this kost", kost.MinDurationHours))
	}
	room, err := l.catalog.Room(ctx, roomID)
	if err != nil {
		l.reject("not_found")
		return nil, err
	}
	if room.KostID != kostID || !room.Operable() {
		l.reject("not_found")
		return nil, domain.NotFound("room", roomID)
	}

	end := start.Add(time.Duration(durationHours) * time.Hour)
	booking := &models.Booking{
		UserID:        session.UserID,
		KostID:        kostID,
		RoomID:        roomID,
		StartTime:     start,
		EndTime:       end,
		DurationHours: durationHours,
		PricePerHour:  kost.PricePerHour,
		TotalPrice:    kost.PricePerHour * int64(durationHours),
	}

	began := time.Now()
	if err := l.admit(ctx, booking); err != nil {
		return nil, err
	}
	metrics.ObserveAdmission(time.Since(began))
	metrics.IncBookingCreated()

	l.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("user_id", booking.UserID).
		Int64("room_id", booking.RoomID).
		Time("start", booking.StartTime).
		Time("end", booking.EndTime).
		Msg("booking created")

	l.publish(events.EventBookingCreated, booking, "", session)
	l.enqueueSync(ctx, booking, worker.TaskUpsert)

	return booking, nil
}

func (l *Ledger) admit(ctx context.Context, booking *models.Booking) error {
	lockCtx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
	unlock, err := l.locker.LockRoom(lockCtx, booking.RoomID)
	cancel()
	if err != nil {
		l.reject("lock_timeout")
		l.logger.Warn().Err(err).Int64("room_id", booking.RoomID).Msg("room lock not acquired")
		return fmt.Errorf("%w: room %d is busy", domain.ErrRoomUnavailable, booking.RoomID)
	}
	defer unlock()

	if err := l.syncRoom(ctx, booking.RoomID); err != nil {
		return err
	}
	if l.index.Overlaps(booking.RoomID, booking.StartTime, booking.EndTime) {
		l.reject("overlap")
		return domain.ErrRoomUnavailable
	}

	for attempt := 1; ; attempt++ {
		if err := l.assignCodes(booking); err != nil {
			return err
		}

		err := l.repo.CreateBookingWithLock(ctx, booking)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, domain.ErrRoomUnavailable):
			l.reject("overlap")
			return err
		case errors.Is(err, domain.ErrNotFound):
			l.reject("not_found")
			return err
		case !errors.Is(err, domain.ErrConcurrencyConflict):
			return fmt.Errorf("create booking: %w", err)
		}

		if l.cfg.Retry.Exhausted(attempt) {
			l.reject("conflict")
			l.logger.Warn().Err(err).Int64("room_id", booking.RoomID).Int("attempts", attempt).Msg("admission retries exhausted")
			return fmt.Errorf("%w: store stayed busy", domain.ErrRoomUnavailable)
		}
		metrics.IncLedgerRetry()

		if err := l.cfg.Retry.Wait(ctx, attempt); err != nil {
			l.reject("conflict")
			return fmt.Errorf("%w: %v", domain.ErrRoomUnavailable, err)
		}
	}

	l.index.Insert(booking.RoomID, booking.ID, booking.StartTime, booking.EndTime)
	return nil
}

// syncRoom reloads the room's windows from the store, which other processes
// write too. Call with the room lock held.
func (l *Ledger) syncRoom(ctx context.Context, roomID int64) error {
	live, err := l.repo.ListLiveRoomBookings(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load bookings of room %d: %w", roomID, err)
	}
	l.index.ReplaceRoom(roomID, intervalEntries(live))
	return nil
}

func (l *Ledger) assignCodes(b *models.Booking) error {
	var err error
	if b.BookingCode, err = l.codes.IssueBookingCode(); err != nil {
		return fmt.Errorf("issue booking code: %w", err)
	}
	if b.CheckinCode, err = l.codes.IssueCheckinCode(); err != nil {
		return fmt.Errorf("issue checkin code: %w", err)
	}
	return nil
}

func (l *Ledger) reject(reason string) {
	metrics.IncBookingRejected(reason)
}

func (l *Ledger) publish(eventType string, b *models.Booking, prev models.Status, by models.Session) {
	publishBookingEvent(l.events, l.logger, eventType, b, prev, by)
}

func (l *Ledger) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	enqueueBookingSync(ctx, l.sync, l.logger, b, taskType)
}

func publishBookingEvent(pub domain.EventPublisher, logger *zerolog.Logger, eventType string, b *models.Booking, prev models.Status, by models.Session) {
	if pub == nil {
		return
	}
	if err := pub.PublishJSON(eventType, events.NewBookingPayload(b, prev, by)); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func enqueueBookingSync(ctx context.Context, w domain.SyncWorker, logger *zerolog.Logger, b *models.Booking, taskType string) {
	if w == nil {
		return
	}

	var status string
	if taskType == worker.TaskUpdateStatus {
		status = string(b.Status)
	}
	snapshot := b.WithoutSecret()
	if err := w.EnqueueTask(ctx, taskType, b.ID, &snapshot, status); err != nil {
		logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
