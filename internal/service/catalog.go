package service

import (
	"context"
	"fmt"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Catalog serves kost and room lookups. Rows change rarely, so they are cached;
// owner writes invalidate the affected keys.
type Catalog struct {
	repo   domain.KostRepository
	cache  *cache.Cache
	logger *zerolog.Logger
}

func NewCatalog(repo domain.KostRepository, ttl time.Duration, logger *zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = models.CatalogCacheTTL
	}
	return &Catalog{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func kostKey(id int64) string  { return fmt.Sprintf("kost:%d", id) }
func roomsKey(id int64) string { return fmt.Sprintf("rooms:%d", id) }
func roomKey(id int64) string  { return fmt.Sprintf("room:%d", id) }

// Kost returns a copy of the kost row.
func (c *Catalog) Kost(ctx context.Context, id int64) (*models.Kost, error) {
	if v, ok := c.cache.Get(kostKey(id)); ok {
		k := v.(models.Kost)
		return &k, nil
	}
	k, err := c.repo.GetKost(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(kostKey(id), *k)
	return k, nil
}

// ActiveKost is Kost but treats an inactive kost as missing.
func (c *Catalog) ActiveKost(ctx context.Context, id int64) (*models.Kost, error) {
	k, err := c.Kost(ctx, id)
	if err != nil {
		return nil, err
	}
	if !k.IsActive {
		return nil, domain.NotFound("kost", id)
	}
	return k, nil
}

func (c *Catalog) Rooms(ctx context.Context, kostID int64) ([]models.Room, error) {
	if v, ok := c.cache.Get(roomsKey(kostID)); ok {
		return append([]models.Room(nil), v.([]models.Room)...), nil
	}
	rooms, err := c.repo.ListRooms(ctx, kostID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(roomsKey(kostID), append([]models.Room(nil), rooms...))
	return rooms, nil
}

func (c *Catalog) Room(ctx context.Context, id int64) (*models.Room, error) {
	if v, ok := c.cache.Get(roomKey(id)); ok {
		r := v.(models.Room)
		return &r, nil
	}
	r, err := c.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(roomKey(id), *r)
	return r, nil
}

// Invalidate drops everything cached for the kost and, when given, one room.
func (c *Catalog) Invalidate(kostID, roomID int64) {
	c.cache.Delete(kostKey(kostID))
	c.cache.Delete(roomsKey(kostID))
	if roomID != 0 {
		c.cache.Delete(roomKey(roomID))
	}
}

// SetRoomStatus lets the kost owner put a room into or out of maintenance.
// Existing bookings are left alone; maintenance only blocks new ones.
func (c *Catalog) SetRoomStatus(ctx context.Context, session models.Session, roomID int64, status models.RoomStatus) (*models.Room, error) {
	if !status.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown room status %q", status))
	}
	if !session.CanManage() {
		return nil, fmt.Errorf("%w: role %s cannot manage rooms", domain.ErrForbidden, session.Role)
	}

	room, err := c.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	kost, err := c.Kost(ctx, room.KostID)
	if err != nil {
		return nil, err
	}
	if !session.IsSystem() && kost.OwnerID != session.UserID {
		return nil, fmt.Errorf("%w: room %d belongs to another owner", domain.ErrForbidden, roomID)
	}

	if err := c.repo.UpdateRoomStatus(ctx, roomID, status); err != nil {
		return nil, err
	}
	c.Invalidate(room.KostID, roomID)

	c.logger.Info().
		Int64("room_id", roomID).
		Int64("kost_id", room.KostID).
		Str("status", string(status)).
		Int64("owner_id", session.UserID).
		Msg("room status changed")

	room.Status = status
	return room, nil
}

// UpdateKost applies an owner edit of price, minimum duration or the active
// flag. Bookings already admitted keep their price.
func (c *Catalog) UpdateKost(ctx context.Context, session models.Session, kostID int64, update models.KostUpdate) (*models.Kost, error) {
	if !session.CanManage() {
		return nil, fmt.Errorf("%w: role %s cannot manage kosts", domain.ErrForbidden, session.Role)
	}
	if update.Empty() {
		return nil, domain.Invalid("body", "nothing to update")
	}
	if update.PricePerHour != nil && *update.PricePerHour <= 0 {
		return nil, domain.Invalid("price_per_hour", "must be positive")
	}
	if update.MinDurationHours != nil && *update.MinDurationHours < 1 {
		return nil, domain.Invalid("min_duration_hours", "must be at least 1")
	}

	current, err := c.repo.GetKost(ctx, kostID)
	if err != nil {
		return nil, err
	}
	if !session.IsSystem() && current.OwnerID != session.UserID {
		return nil, fmt.Errorf("%w: kost %d belongs to another owner", domain.ErrForbidden, kostID)
	}

	next := update.Apply(*current)
	if err := c.repo.UpdateKost(ctx, &next); err != nil {
		return nil, err
	}
	c.Invalidate(kostID, 0)

	c.logger.Info().
		Int64("kost_id", kostID).
		Int64("price_per_hour", next.PricePerHour).
		Int("min_duration_hours", next.MinDurationHours).
		Bool("is_active", next.IsActive).
		Int64("owner_id", session.UserID).
		Msg("kost updated")
	return &next, nil
}

func (c *Catalog) ListOwnerKosts(ctx context.Context, session models.Session) ([]models.Kost, error) {
	if !session.CanManage() || session.IsSystem() {
		return nil, fmt.Errorf("%w: role %s has no kosts", domain.ErrForbidden, session.Role)
	}
	return c.repo.ListKostsByOwner(ctx, session.UserID)
}
