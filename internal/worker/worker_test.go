package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"kostbook/internal/database"
	"kostbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBooking(id int64) *models.Booking {
	start := time.Date(2030, 5, 10, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:            id,
		UserID:        1,
		KostID:        1,
		RoomID:        10,
		StartTime:     start,
		EndTime:       start.Add(2 * time.Hour),
		DurationHours: 2,
		PricePerHour:  15000,
		TotalPrice:    30000,
		Status:        models.StatusBooked,
		BookingCode:   "KB-TEST0001",
	}
}

func TestProcessTaskOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		sheetsErr   error
		policy      RetryPolicy
		wantStatus  string
		wantRetries int
		wantNext    bool
	}{
		{name: "delivered", wantStatus: models.SyncStatusCompleted},
		{
			name:        "transient failure is parked",
			sheetsErr:   errors.New("sheets 503"),
			policy:      RetryPolicy{MaxRetries: 3, InitialDelay: time.Second},
			wantStatus:  models.SyncStatusRetry,
			wantRetries: 1,
			wantNext:    true,
		},
		{
			name:       "last attempt fails the task",
			sheetsErr:  errors.New("sheets 503"),
			policy:     RetryPolicy{MaxRetries: 1},
			wantStatus: models.SyncStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			sheets := &fakeSheets{err: tt.sheetsErr}
			w := NewSyncWorker(db, sheets, nil, tt.policy, nil)
			ctx := context.Background()

			require.NoError(t, w.EnqueueTask(ctx, TaskUpsert, 2, testBooking(2), ""))
			task, ok := w.tryLocalQueue()
			require.True(t, ok, "task handed over in memory")
			w.processTask(ctx, &task)

			status, retries, next := loadTaskStatus(t, db, task.ID)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantRetries, retries)
			assert.Equal(t, tt.wantNext, next.Valid)
			if tt.wantNext {
				assert.True(t, next.Time.After(time.Now()))
			}
			assert.Equal(t, 1, sheets.upsertCalls)
		})
	}
}

func TestFailedTaskGoesToDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("spreadsheet deleted")}
	w := NewSyncWorker(db, sheets, client, RetryPolicy{MaxRetries: 1}, nil)
	ctx := context.Background()

	require.NoError(t, w.EnqueueTask(ctx, TaskUpdateStatus, 3, testBooking(3), "cancelled"))
	assert.False(t, isEmptyList(mr, w.redisQueueKey), "handed over through redis")

	task, ok := w.tryRedis(ctx)
	require.True(t, ok)
	w.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.SyncStatusFailed, status)
	dead, err := mr.List(w.deadLetterKey)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
	assert.Equal(t, 1, sheets.statusCalls)
}

func isEmptyList(mr *miniredis.Miniredis, key string) bool {
	items, err := mr.List(key)
	return err != nil || len(items) == 0
}

func TestDrainPicksUpPolledTasks(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	w := NewSyncWorker(db, sheets, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	// a restart loses the memory queue but not the outbox row
	require.NoError(t, w.EnqueueTask(ctx, TaskUpsert, 4, testBooking(4), ""))
	w.tryLocalQueue()

	assert.Equal(t, 1, w.Drain(ctx))
	assert.Equal(t, 1, sheets.upsertCalls)
	assert.Zero(t, w.Drain(ctx))
}

func TestHandleTask(t *testing.T) {
	sheets := &fakeSheets{}
	w := NewSyncWorker(nil, sheets, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	require.NoError(t, w.handleTask(ctx, TaskUpsert, syncTaskPayload{Booking: testBooking(1)}))
	require.NoError(t, w.handleTask(ctx, TaskUpdateStatus, syncTaskPayload{BookingID: 123, Status: "active"}))
	assert.Equal(t, 1, sheets.upsertCalls)
	assert.Equal(t, 1, sheets.statusCalls)

	assert.Error(t, w.handleTask(ctx, TaskUpsert, syncTaskPayload{BookingID: 1}), "booking missing")
	assert.Error(t, w.handleTask(ctx, TaskUpdateStatus, syncTaskPayload{BookingID: 1}), "status missing")
	assert.Error(t, w.handleTask(ctx, "delete", syncTaskPayload{BookingID: 1}), "unknown type")

	unconfigured := NewSyncWorker(nil, nil, nil, RetryPolicy{}, nil)
	assert.Error(t, unconfigured.handleTask(ctx, TaskUpsert, syncTaskPayload{Booking: testBooking(1)}))
}

func TestRetryPolicy(t *testing.T) {
	t.Run("BackoffIsCapped", func(t *testing.T) {
		policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
		assert.Equal(t, time.Second, policy.NextDelay(1))
		assert.Equal(t, 2*time.Second, policy.NextDelay(2))
		assert.Equal(t, 5*time.Second, policy.NextDelay(5))
		assert.Equal(t, time.Second, policy.NextDelay(0))
	})

	t.Run("JitterStaysInBand", func(t *testing.T) {
		policy := RetryPolicy{InitialDelay: 100 * time.Millisecond, Jitter: 0.2}
		for range 50 {
			d := policy.NextDelay(1)
			assert.GreaterOrEqual(t, d, 80*time.Millisecond)
			assert.LessOrEqual(t, d, 120*time.Millisecond)
		}
	})

	t.Run("Exhausted", func(t *testing.T) {
		policy := RetryPolicy{MaxRetries: 2}
		assert.False(t, policy.Exhausted(1))
		assert.False(t, policy.Exhausted(2))
		assert.True(t, policy.Exhausted(3))
		assert.True(t, RetryPolicy{}.Exhausted(1))
	})

	t.Run("WaitHonoursContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryPolicy{InitialDelay: time.Hour}.Wait(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)

		assert.NoError(t, RetryPolicy{InitialDelay: time.Millisecond}.Wait(context.Background(), 1))
	})
}

func TestEnqueueTaskValidation(t *testing.T) {
	w := NewSyncWorker(newTestDB(t), &fakeSheets{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	assert.Error(t, w.EnqueueTask(ctx, "", 1, testBooking(1), ""), "empty task type")
	assert.Error(t, w.EnqueueTask(ctx, TaskUpsert, 0, nil, ""), "no booking id")
	assert.NoError(t, w.EnqueueTask(ctx, TaskUpsert, 0, testBooking(9), ""), "id taken from the booking")
}

func TestDecodePayload(t *testing.T) {
	decoded, err := decodePayload(`{"booking_id":123,"status":"active"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(123), decoded.BookingID)
	assert.Equal(t, "active", decoded.Status)

	_, err = decodePayload(`invalid json`)
	assert.Error(t, err)
}

func TestSyncWorkerPurgesDeliveredTasks(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWorker(db, &fakeSheets{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	require.NoError(t, w.EnqueueTask(ctx, TaskUpsert, 1, testBooking(1), ""))
	assert.Equal(t, 1, w.Drain(ctx))

	// the first idle drain purges nothing: the task was processed just now
	w.Drain(ctx)
	status, _, _ := loadTaskStatus(t, db, 1)
	assert.Equal(t, models.SyncStatusCompleted, status)

	w.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	w.Drain(ctx)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n))
	assert.Zero(t, n)
}

func TestResyncRewritesSheetFromLedger(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SyncKosts(ctx, []models.Kost{{
		ID: 1, OwnerID: 900, Name: "Kost Melati", PricePerHour: 15000, MinDurationHours: 2, IsActive: true,
		Rooms: []models.Room{{ID: 10, Number: "101"}},
	}}))
	first := testBooking(0)
	first.CheckinCode = "0123456789abcdef0123456789abcdef"
	require.NoError(t, db.CreateBookingWithLock(ctx, first))
	second := testBooking(0)
	second.StartTime = second.EndTime
	second.EndTime = second.StartTime.Add(2 * time.Hour)
	second.BookingCode = "KB-TEST0002"
	second.CheckinCode = "fedcba9876543210fedcba9876543210"
	require.NoError(t, db.CreateBookingWithLock(ctx, second))
	require.NoError(t, db.UpdateBookingStatusCAS(ctx, second.ID, models.StatusBooked, models.StatusCancelled, time.Now()))

	sheets := &fakeSheets{}
	w := NewSyncWorker(db, sheets, nil, RetryPolicy{}, nil)
	require.NoError(t, w.Resync(ctx))

	require.Len(t, sheets.replaced, 2, "terminal bookings are kept on the sheet")
	assert.Equal(t, first.ID, sheets.replaced[0].ID)
	assert.Equal(t, models.StatusCancelled, sheets.replaced[1].Status)
	for _, b := range sheets.replaced {
		assert.Empty(t, b.CheckinCode)
	}

	sheets.err = errors.New("quota exceeded")
	assert.Error(t, w.Resync(ctx))
	assert.Error(t, NewSyncWorker(db, nil, nil, RetryPolicy{}, nil).Resync(ctx))
}

type fakeSheets struct {
	err         error
	upsertCalls int
	statusCalls int
	replaced    []models.Booking
}

func (f *fakeSheets) UpsertBooking(context.Context, *models.Booking) error {
	f.upsertCalls++
	return f.err
}

func (f *fakeSheets) UpdateBookingStatus(context.Context, int64, string) error {
	f.statusCalls++
	return f.err
}

func (f *fakeSheets) ReplaceAll(_ context.Context, bookings []models.Booking) error {
	f.replaced = bookings
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	require.NoError(t, row.Scan(&status, &retryCount, &nextRetry))
	return status, retryCount, nextRetry
}
