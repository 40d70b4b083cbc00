package service

import (
	"context"
	"fmt"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/domain"
	"kostbook/internal/interval"
	"kostbook/internal/models"
	"kostbook/internal/repository"

	"github.com/rs/zerolog"
)

// Deps are the collaborators the engine is wired with. Locker, Events and Sync
// are optional.
type Deps struct {
	Repo   domain.Repository
	Locker domain.RoomLocker
	Events domain.EventPublisher
	Sync   domain.SyncWorker
	Logger *zerolog.Logger
}

// Engine is the reservation core as seen by the API and the workers.
type Engine struct {
	repo         domain.Repository
	index        *interval.Index
	catalog      *Catalog
	availability *AvailabilityResolver
	ledger       *Ledger
	states       *StateMachine
	codes        *CodeIssuer
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewEngine(cfg config.BookingConfig, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	locker := deps.Locker
	if locker == nil {
		locker = repository.NewMemoryRoomLocker()
	}

	index := interval.New()
	catalog := NewCatalog(deps.Repo, models.CatalogCacheTTL, logger)
	codes := NewCodeIssuer(deps.Repo)

	e := &Engine{
		repo:         deps.Repo,
		index:        index,
		catalog:      catalog,
		availability: NewAvailabilityResolver(catalog, deps.Repo, index),
		codes:        codes,
		logger:       logger,
	}
	e.ledger = NewLedger(deps.Repo, catalog, index, locker, codes, deps.Events, deps.Sync, LedgerConfig{
		MaxDurationHours: cfg.MaxDurationHours,
		MaxAdvanceDays:   cfg.MaxAdvanceDays,
		MaxRetries:       cfg.MaxRetries,
		LockTimeout:      cfg.LockTimeout,
	}, logger)
	e.states = NewStateMachine(deps.Repo, catalog, index, locker, codes, deps.Events, deps.Sync, StateMachineConfig{
		Grace:       cfg.Grace(),
		LockTimeout: cfg.LockTimeout,
	}, logger)
	e.SetClock(func() time.Time { return time.Now().UTC() })
	return e
}

// SetClock replaces the time source everywhere in the engine.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.ledger.now = now
	e.states.now = now
}

// RebuildIndex loads every live booking into the interval index. Call once at
// startup before serving. Afterwards rooms are resynced from storage on every
// admission and availability query.
func (e *Engine) RebuildIndex(ctx context.Context) (int, error) {
	live, err := e.repo.ListNonTerminalBookings(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild interval index: %w", err)
	}
	entries := intervalEntries(live)
	e.index.Load(entries)
	e.logger.Info().Int("bookings", len(entries)).Msg("interval index rebuilt")
	return len(entries), nil
}

func (e *Engine) QueryAvailableRooms(ctx context.Context, kostID int64, start, end time.Time) ([]models.Room, error) {
	return e.availability.QueryAvailable(ctx, kostID, start.UTC(), end.UTC())
}

func (e *Engine) CreateBooking(ctx context.Context, session models.Session, kostID, roomID int64, start time.Time, durationHours int) (*models.Booking, error) {
	return e.ledger.Create(ctx, session, kostID, roomID, start, durationHours)
}

// ResolveByCheckinCode looks up a live booking by its secret code without changing it.
func (e *Engine) ResolveByCheckinCode(ctx context.Context, code string) (*models.Booking, error) {
	return e.codes.Resolve(ctx, code)
}

func (e *Engine) CheckIn(ctx context.Context, code string) (*models.Booking, error) {
	return e.states.CheckIn(ctx, code)
}

func (e *Engine) TransitionBooking(ctx context.Context, session models.Session, bookingID int64, action models.Action) (*models.Booking, error) {
	b, err := e.states.Transition(ctx, session, bookingID, action)
	if err != nil {
		return nil, err
	}
	return e.visibleTo(session, b), nil
}

func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	return e.states.SweepExpired(ctx, e.now())
}

// GetBooking returns the booking if the caller is its renter or the kost owner.
// Only the renter sees the check-in code.
func (e *Engine) GetBooking(ctx context.Context, session models.Session, id int64) (*models.Booking, error) {
	b, err := e.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsSystem() || b.UserID == session.UserID {
		return b, nil
	}
	if session.CanManage() {
		kost, err := e.catalog.Kost(ctx, b.KostID)
		if err != nil {
			return nil, err
		}
		if kost.OwnerID == session.UserID {
			return e.visibleTo(session, b), nil
		}
	}
	return nil, fmt.Errorf("%w: booking %d", domain.ErrForbidden, id)
}

func (e *Engine) ListUserBookings(ctx context.Context, session models.Session, status models.Status) ([]models.Booking, error) {
	if session.UserID <= 0 {
		return nil, domain.Invalid("user_id", "is required")
	}
	if status != "" {
		if _, err := models.ParseStatus(string(status)); err != nil {
			return nil, domain.Invalid("status", err.Error())
		}
	}
	return e.repo.ListUserBookings(ctx, session.UserID, status)
}

// GetActiveBooking returns the renter's stay in progress, or the next upcoming one.
func (e *Engine) GetActiveBooking(ctx context.Context, session models.Session) (*models.Booking, error) {
	if session.UserID <= 0 {
		return nil, domain.Invalid("user_id", "is required")
	}
	return e.repo.GetActiveBooking(ctx, session.UserID, e.now())
}

func (e *Engine) ListOwnerBookings(ctx context.Context, session models.Session) ([]models.Booking, error) {
	if !session.CanManage() || session.IsSystem() {
		return nil, fmt.Errorf("%w: role %s has no kosts", domain.ErrForbidden, session.Role)
	}
	list, err := e.repo.ListOwnerBookings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = list[i].WithoutSecret()
	}
	return list, nil
}

func (e *Engine) ListOwnerKosts(ctx context.Context, session models.Session) ([]models.Kost, error) {
	return e.catalog.ListOwnerKosts(ctx, session)
}

// ListOwnerRooms returns every room of every kost the caller owns.
func (e *Engine) ListOwnerRooms(ctx context.Context, session models.Session) ([]models.Room, error) {
	kosts, err := e.catalog.ListOwnerKosts(ctx, session)
	if err != nil {
		return nil, err
	}
	var rooms []models.Room
	for _, k := range kosts {
		list, err := e.catalog.Rooms(ctx, k.ID)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, list...)
	}
	return rooms, nil
}

func (e *Engine) SetRoomStatus(ctx context.Context, session models.Session, roomID int64, status models.RoomStatus) (*models.Room, error) {
	return e.catalog.SetRoomStatus(ctx, session, roomID, status)
}

func (e *Engine) UpdateKost(ctx context.Context, session models.Session, kostID int64, update models.KostUpdate) (*models.Kost, error) {
	return e.catalog.UpdateKost(ctx, session, kostID, update)
}

// Now is the engine clock, exposed for countdowns.
func (e *Engine) Now() time.Time { return e.now() }

func intervalEntries(bookings []models.Booking) []interval.Entry {
	entries := make([]interval.Entry, 0, len(bookings))
	for _, b := range bookings {
		if !b.Status.HoldsRoom() {
			continue
		}
		entries = append(entries, interval.Entry{
			BookingID: b.ID,
			RoomID:    b.RoomID,
			Start:     b.StartTime,
			End:       b.EndTime,
		})
	}
	return entries
}

func (e *Engine) visibleTo(session models.Session, b *models.Booking) *models.Booking {
	if session.IsSystem() || b.UserID == session.UserID {
		return b
	}
	out := b.WithoutSecret()
	return &out
}
