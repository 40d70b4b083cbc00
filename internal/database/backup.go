package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/logging"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix = "kostbook_"
	snapshotSuffix = ".db"
	snapshotLayout = "20060102_150405"
)

// Snapshot describes one verified copy of the ledger.
type Snapshot struct {
	Path        string
	TakenAt     time.Time
	Outstanding int
}

// BackupService copies the ledger with VACUUM INTO on a schedule and prunes
// copies past the retention window.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{db: db, cfg: cfg, logger: logging.Component(logger, "backup"), now: time.Now}
}

func (s *BackupService) interval() time.Duration {
	if s.cfg.Schedule == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(s.cfg.Schedule)
	if err != nil || d <= 0 {
		s.logger.Warn().Err(err).Str("schedule", s.cfg.Schedule).Msg("bad backup schedule, using 24h")
		return 24 * time.Hour
	}
	return d
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return
	}

	interval := s.interval()
	s.logger.Info().Dur("interval", interval).Str("path", s.cfg.StoragePath).Msg("backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *BackupService) runCycle(ctx context.Context) {
	snap, err := s.PerformBackup(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("backup failed")
		return
	}
	s.logger.Info().Str("path", snap.Path).Int("outstanding_bookings", snap.Outstanding).Msg("backup completed")
	if n := s.CleanupOldBackups(); n > 0 {
		s.logger.Info().Int("removed", n).Msg("old backups pruned")
	}
}

// PerformBackup writes a copy, then opens it to confirm it is readable
// before reporting success. A copy that fails verification is removed.
func (s *BackupService) PerformBackup(ctx context.Context) (Snapshot, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("create backup directory: %w", err)
	}

	taken := s.now().UTC()
	path := filepath.Join(s.cfg.StoragePath, snapshotPrefix+taken.Format(snapshotLayout)+snapshotSuffix)
	if _, err := os.Stat(path); err == nil {
		return Snapshot{}, fmt.Errorf("backup %s already exists", path)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return Snapshot{}, fmt.Errorf("vacuum into %s: %w", path, err)
	}

	outstanding, err := verifySnapshot(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return Snapshot{}, fmt.Errorf("verify %s: %w", path, err)
	}
	return Snapshot{Path: path, TakenAt: taken, Outstanding: outstanding}, nil
}

func verifySnapshot(ctx context.Context, path string) (int, error) {
	copyDB, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer copyDB.Close()

	var result string
	if err := copyDB.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return 0, err
	}
	if result != "ok" {
		return 0, fmt.Errorf("integrity check: %s", result)
	}

	var n int
	err = copyDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE `+liveStatus, liveStatusArgs...).Scan(&n)
	return n, err
}

// CleanupOldBackups removes snapshots whose name stamp is older than the
// retention window and returns how many were removed.
func (s *BackupService) CleanupOldBackups() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("read backup directory")
		return 0
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, e := range entries {
		taken, ok := snapshotTime(e.Name())
		if e.IsDir() || !ok || !taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("remove old backup")
			continue
		}
		removed++
	}
	return removed
}

func snapshotTime(name string) (time.Time, bool) {
	stamp, ok := strings.CutPrefix(name, snapshotPrefix)
	if !ok {
		return time.Time{}, false
	}
	stamp, ok = strings.CutSuffix(stamp, snapshotSuffix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(snapshotLayout, stamp)
	return t, err == nil
}
