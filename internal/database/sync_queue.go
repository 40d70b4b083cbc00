package database

import (
	"context"
	"fmt"
	"time"

	"kostbook/internal/models"
)

// The sync_queue table is the outbox for the bookings spreadsheet. Rows are
// written next to booking changes and drained by the sync worker.

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	task.CreatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx, `INSERT INTO sync_queue
        (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount,
		task.LastError, task.CreatedAt, utcPtr(task.NextRetryAt))
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get sync task id: %w", err)
	}
	return nil
}

// DueSyncTasks returns pending tasks and retries whose backoff has elapsed,
// oldest first.
func (db *DB) DueSyncTasks(ctx context.Context, now time.Time, limit int) ([]models.SyncTask, error) {
	tasks, err := db.querySyncTasks(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
        WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY created_at, id LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due sync tasks: %w", err)
	}
	return tasks, nil
}

// FailedSyncTasks lists tasks that ran out of retries, newest first.
func (db *DB) FailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	tasks, err := db.querySyncTasks(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
        WHERE status = ? ORDER BY created_at DESC, id DESC`, models.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed sync tasks: %w", err)
	}
	return tasks, nil
}

func (db *DB) CompleteSyncTask(ctx context.Context, id int64) error {
	return db.execSyncUpdate(ctx, "complete", `UPDATE sync_queue
        SET status = ?, last_error = NULL, next_retry_at = NULL, processed_at = ? WHERE id = ?`,
		models.SyncStatusCompleted, time.Now().UTC(), id)
}

// RetrySyncTask records the failure and parks the task until next.
func (db *DB) RetrySyncTask(ctx context.Context, id int64, cause string, next time.Time) error {
	return db.execSyncUpdate(ctx, "retry", `UPDATE sync_queue
        SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`,
		models.SyncStatusRetry, cause, next.UTC(), id)
}

func (db *DB) FailSyncTask(ctx context.Context, id int64, cause string) error {
	return db.execSyncUpdate(ctx, "fail", `UPDATE sync_queue
        SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`,
		models.SyncStatusFailed, cause, time.Now().UTC(), id)
}

// PurgeCompletedSyncTasks deletes delivered tasks processed before cutoff.
// Failed tasks are kept for inspection.
func (db *DB) PurgeCompletedSyncTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ? AND processed_at < ?`,
		models.SyncStatusCompleted, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync tasks: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) execSyncUpdate(ctx context.Context, op, query string, args ...any) error {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s sync task: %w", op, err)
	}
	return nil
}

func (db *DB) querySyncTasks(ctx context.Context, query string, args ...any) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
