package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kostbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(tempDir, "source.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	seedKost(t, db)
	require.NoError(t, db.CreateBookingWithLock(context.Background(), newBooking(1, 10, 10, 2, "KB-A")))

	storagePath := filepath.Join(tempDir, "backups")
	now := time.Date(2030, 5, 10, 3, 0, 0, 0, time.UTC)
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storagePath, RetentionDays: 1}, &logger)
	s.now = func() time.Time { return now }

	t.Run("PerformBackup", func(t *testing.T) {
		snap, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(storagePath, "kostbook_20300510_030000.db"), snap.Path)
		assert.Equal(t, 1, snap.Outstanding)

		restored, err := NewDB(snap.Path, &logger)
		require.NoError(t, err)
		defer restored.Close()
		kost, err := restored.GetKost(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Kost Melati", kost.Name)
	})

	t.Run("SameSecondTwice", func(t *testing.T) {
		_, err := s.PerformBackup(context.Background())
		assert.Error(t, err)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		old := filepath.Join(storagePath, "kostbook_20300508_030000.db")
		require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
		unrelated := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

		assert.Equal(t, 1, s.CleanupOldBackups())

		assert.NoFileExists(t, old)
		assert.FileExists(t, unrelated)
		assert.FileExists(t, filepath.Join(storagePath, "kostbook_20300510_030000.db"))
	})
}

func TestSnapshotTime(t *testing.T) {
	ts, ok := snapshotTime("kostbook_20300510_030000.db")
	require.True(t, ok)
	assert.Equal(t, time.Date(2030, 5, 10, 3, 0, 0, 0, time.UTC), ts)

	for _, name := range []string{"backup_20300510_030000.db", "kostbook_garbage.db", "kostbook_20300510_030000.db-wal"} {
		_, ok := snapshotTime(name)
		assert.False(t, ok, name)
	}
}

func TestBackupServiceDisabled(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
