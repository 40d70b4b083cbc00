package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/models"
)

// SyncKosts upserts the catalogue seed. Room status is left alone for existing
// rooms so a maintenance flag set by the owner survives restarts.
func (db *DB) SyncKosts(ctx context.Context, kosts []models.Kost) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i := range kosts {
		k := &kosts[i]
		if k.MinDurationHours <= 0 {
			k.MinDurationHours = 1
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO kosts (id, owner_id, name, address, city, price_per_hour, min_duration_hours, is_active, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                owner_id = excluded.owner_id,
                name = excluded.name,
                address = excluded.address,
                city = excluded.city,
                price_per_hour = excluded.price_per_hour,
                min_duration_hours = excluded.min_duration_hours,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`,
			k.ID, k.OwnerID, k.Name, k.Address, k.City, k.PricePerHour, k.MinDurationHours, k.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert kost %d: %w", k.ID, err)
		}

		for j := range k.Rooms {
			r := &k.Rooms[j]
			r.KostID = k.ID
			if r.Status == "" {
				r.Status = models.RoomAvailable
			}
			_, err := tx.ExecContext(ctx, `
                INSERT INTO rooms (id, kost_id, room_number, room_type, status)
                VALUES (?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET
                    kost_id = excluded.kost_id,
                    room_number = excluded.room_number,
                    room_type = excluded.room_type`,
				r.ID, r.KostID, r.Number, r.Type, r.Status,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert room %d: %w", r.ID, err)
			}
		}
	}

	return tx.Commit()
}

const kostColumns = `id, owner_id, name, address, city, price_per_hour, min_duration_hours, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKost(row rowScanner) (*models.Kost, error) {
	var k models.Kost
	err := row.Scan(&k.ID, &k.OwnerID, &k.Name, &k.Address, &k.City, &k.PricePerHour,
		&k.MinDurationHours, &k.IsActive, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (db *DB) GetKost(ctx context.Context, id int64) (*models.Kost, error) {
	row := db.QueryRowContext(ctx, `SELECT `+kostColumns+` FROM kosts WHERE id = ?`, id)
	k, err := scanKost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("kost", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kost: %w", err)
	}
	return k, nil
}

func (db *DB) ListKostsByOwner(ctx context.Context, ownerID int64) ([]models.Kost, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+kostColumns+` FROM kosts WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner kosts: %w", err)
	}
	defer rows.Close()

	var kosts []models.Kost
	for rows.Next() {
		k, err := scanKost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kost: %w", err)
		}
		kosts = append(kosts, *k)
	}
	return kosts, rows.Err()
}

func (db *DB) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := db.QueryRowContext(ctx, `SELECT id, kost_id, room_number, room_type, status FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.KostID, &r.Number, &r.Type, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("room", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &r, nil
}

func (db *DB) ListRooms(ctx context.Context, kostID int64) ([]models.Room, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, kost_id, room_number, room_type, status FROM rooms WHERE kost_id = ? ORDER BY id`, kostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.KostID, &r.Number, &r.Type, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// UpdateKost writes the owner-editable fields of k.
func (db *DB) UpdateKost(ctx context.Context, k *models.Kost) error {
	k.UpdatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `UPDATE kosts SET price_per_hour = ?, min_duration_hours = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		k.PricePerHour, k.MinDurationHours, k.IsActive, k.UpdatedAt, k.ID)
	if err != nil {
		return fmt.Errorf("failed to update kost: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("kost", k.ID)
	}
	return nil
}

func (db *DB) UpdateRoomStatus(ctx context.Context, roomID int64, status models.RoomStatus) error {
	if !status.Valid() {
		return domain.Invalid("status", fmt.Sprintf("unknown room status %q", status))
	}
	res, err := db.ExecContext(ctx, `UPDATE rooms SET status = ? WHERE id = ?`, status, roomID)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("room", roomID)
	}
	return nil
}
