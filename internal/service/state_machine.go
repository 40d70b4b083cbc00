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

// StateMachineConfig carries the check-in grace and how long a closing
// transition waits for the room lock.
type StateMachineConfig struct {
	Grace       time.Duration
	LockTimeout time.Duration
}

// StateMachine moves bookings through booked -> active -> completed, with
// cancellation from either live state. Every write is a compare-and-set on the
// current status, so the sweeper and people acting on the same booking cannot
// both win. Transitions that release the room run under the room lock, so
// they never interleave with an admission on that room.
type StateMachine struct {
	repo        domain.BookingRepository
	catalog     *Catalog
	index       *interval.Index
	locker      domain.RoomLocker
	codes       *CodeIssuer
	events      domain.EventPublisher
	sync        domain.SyncWorker
	grace       time.Duration
	lockTimeout time.Duration
	now         func() time.Time
	logger      *zerolog.Logger
}

func NewStateMachine(
	repo domain.BookingRepository,
	catalog *Catalog,
	index *interval.Index,
	locker domain.RoomLocker,
	codes *CodeIssuer,
	publisher domain.EventPublisher,
	syncWorker domain.SyncWorker,
	cfg StateMachineConfig,
	logger *zerolog.Logger,
) *StateMachine {
	if cfg.Grace < 0 {
		cfg.Grace = models.DefaultCheckinGrace
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = models.DefaultLockTimeout
	}
	return &StateMachine{
		repo:        repo,
		catalog:     catalog,
		index:       index,
		locker:      locker,
		codes:       codes,
		events:      publisher,
		sync:        syncWorker,
		grace:       cfg.Grace,
		lockTimeout: cfg.LockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Transition applies a caller action to a booking by id.
func (m *StateMachine) Transition(ctx context.Context, session models.Session, bookingID int64, action models.Action) (*models.Booking, error) {
	to := action.Target()
	if to == "" {
		return nil, domain.Invalid("action", fmt.Sprintf("unknown action %q", action))
	}

	b, err := m.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, session, b, action); err != nil {
		return nil, err
	}

	updated, _, err := m.apply(ctx, b, to, session, m.now())
	return updated, err
}

// CheckIn activates the booking a scanned code belongs to. Holding the code is
// the authorization.
func (m *StateMachine) CheckIn(ctx context.Context, code string) (*models.Booking, error) {
	b, err := m.codes.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	by := models.Session{UserID: b.UserID, Role: models.RoleRenter}
	updated, _, err := m.apply(ctx, b, models.StatusActive, by, m.now())
	return updated, err
}

// SweepExpired closes every live booking whose window ended at or before now:
// active stays complete, booked no-shows are cancelled. Safe to run repeatedly
// and concurrently with explicit transitions.
func (m *StateMachine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.repo.ListExpiredBookings(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for i := range expired {
		b := &expired[i]
		var to models.Status
		switch b.Status {
		case models.StatusActive:
			to = models.StatusCompleted
		case models.StatusBooked:
			to = models.StatusCancelled
		case models.StatusCompleted, models.StatusCancelled:
			continue
		default:
			continue
		}

		_, changed, err := m.apply(ctx, b, to, models.SystemSession(), now)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// someone else closed it first
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		if changed {
			count++
			metrics.IncSweep(string(to))
		}
	}

	if count > 0 {
		m.logger.Info().Int("closed", count).Time("now", now).Msg("expired bookings swept")
	}
	return count, errors.Join(errs...)
}

func (m *StateMachine) authorize(ctx context.Context, session models.Session, b *models.Booking, action models.Action) error {
	if session.IsSystem() {
		return nil
	}

	isRenter := session.UserID != 0 && session.UserID == b.UserID
	isOwner := false
	if session.CanManage() {
		kost, err := m.catalog.Kost(ctx, b.KostID)
		if err != nil {
			return err
		}
		isOwner = kost.OwnerID == session.UserID
	}

	var allowed bool
	switch action {
	case models.ActionCheckin, models.ActionCancel:
		allowed = isRenter || isOwner
	case models.ActionComplete:
		allowed = isOwner
	default:
		allowed = false
	}
	if !allowed {
		return fmt.Errorf("%w: user %d may not %s booking %d", domain.ErrForbidden, session.UserID, action, b.ID)
	}
	return nil
}

func (m *StateMachine) checkWindow(b *models.Booking, now time.Time) error {
	if now.Before(b.StartTime.Add(-m.grace)) {
		return fmt.Errorf("%w: opens at %s", domain.ErrTooEarly, b.StartTime.Add(-m.grace).Format(time.RFC3339))
	}
	if !now.Before(b.EndTime) {
		return fmt.Errorf("%w: ended at %s", domain.ErrTooLate, b.EndTime.Format(time.RFC3339))
	}
	return nil
}

// apply moves b to the target status. Already being there is a no-op that
// reports changed=false.
func (m *StateMachine) apply(ctx context.Context, b *models.Booking, to models.Status, by models.Session, now time.Time) (*models.Booking, bool, error) {
	if b.Status == to {
		return b, false, nil
	}
	if !models.CanTransition(b.Status, to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, b.Status, to)
	}
	if to == models.StatusActive {
		if err := m.checkWindow(b, now); err != nil {
			return nil, false, err
		}
	}

	releases := !to.HoldsRoom()
	if releases {
		unlock, err := m.lockRoom(ctx, b.RoomID)
		if err != nil {
			return nil, false, err
		}
		defer unlock()
	}

	from := b.Status
	err := m.repo.UpdateBookingStatusCAS(ctx, b.ID, from, to, now)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		fresh, gerr := m.repo.GetBooking(ctx, b.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		if fresh.Status == to {
			return fresh, false, nil
		}
		return nil, false, fmt.Errorf("%w: booking %d moved to %s", domain.ErrInvalidTransition, b.ID, fresh.Status)
	}
	if err != nil {
		return nil, false, err
	}

	updated := *b
	updated.Status = to
	updated.UpdatedAt = now.UTC()
	updated.Version++
	at := now.UTC()
	switch to {
	case models.StatusActive:
		updated.CheckedInAt = &at
	case models.StatusCompleted, models.StatusCancelled:
		updated.ClosedAt = &at
	case models.StatusBooked:
	}

	if releases {
		m.index.Remove(updated.RoomID, updated.ID)
	}

	metrics.IncTransition(string(from), string(to))
	m.logger.Info().
		Int64("booking_id", updated.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("by", string(by.Role)).
		Int64("by_id", by.UserID).
		Msg("booking transitioned")

	publishBookingEvent(m.events, m.logger, events.EventForStatus(to), &updated, from, by)
	enqueueBookingSync(ctx, m.sync, m.logger, &updated, worker.TaskUpdateStatus)

	return &updated, true, nil
}

func (m *StateMachine) lockRoom(ctx context.Context, roomID int64) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	unlock, err := m.locker.LockRoom(lockCtx, roomID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("room_id", roomID).Msg("room lock not acquired for transition")
		return nil, fmt.Errorf("%w: room %d is busy", domain.ErrConcurrencyConflict, roomID)
	}
	return unlock, nil
}
