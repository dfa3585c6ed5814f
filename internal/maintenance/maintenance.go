// Package maintenance runs the gateway's nightly housekeeping: a SQLite
// file backup followed by data-retention purges, mirroring the original
// service's nightly_backup/purge_old_data pair.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/store"
)

const (
	// AttemptRetention mirrors the original's 90-day message retention.
	AttemptRetention = 90 * 24 * time.Hour
	// InboxRetention mirrors the original's 365-day audit retention.
	InboxRetention = 365 * 24 * time.Hour
)

// Runner performs one nightly maintenance pass at a time.
type Runner struct {
	Store     store.Store
	DBPath    string // empty disables the file backup step
	BackupDir string
	Log       *slog.Logger

	now func() time.Time
}

// New constructs a Runner. log may be nil. BackupDir defaults to a
// "backups" directory inside dbPath's directory if empty.
func New(st store.Store, dbPath, backupDir string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if backupDir == "" && dbPath != "" {
		backupDir = filepath.Join(filepath.Dir(dbPath), "backups")
	}
	return &Runner{Store: st, DBPath: dbPath, BackupDir: backupDir, Log: log, now: func() time.Time { return time.Now().UTC() }}
}

// RunOnce performs a single backup-then-purge pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.DBPath != "" {
		path, err := r.backupDB()
		if err != nil {
			return fmt.Errorf("maintenance: backup: %w", err)
		}
		r.Log.Info("nightly backup saved", "path", path)
	}

	now := r.now()
	removedAttempts, err := r.Store.PurgeAttemptsBefore(ctx, now.Add(-AttemptRetention))
	if err != nil {
		return fmt.Errorf("maintenance: purging attempts: %w", err)
	}
	removedInbox, err := r.Store.PurgeInboxBefore(ctx, now.Add(-InboxRetention))
	if err != nil {
		return fmt.Errorf("maintenance: purging inbox: %w", err)
	}
	r.Log.Info("retention purge complete", "attempts_removed", removedAttempts, "inbox_removed", removedInbox)
	return nil
}

// Run fires RunOnce every 24h until ctx is done, logging (not aborting on)
// any single pass's failure.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.Log.Error("maintenance pass failed", "error", err)
			}
		}
	}
}

// backupDB copies the SQLite file to a timestamped path under BackupDir.
func (r *Runner) backupDB() (string, error) {
	if err := os.MkdirAll(r.BackupDir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(r.BackupDir, fmt.Sprintf("muxo-%s.db", r.now().Format("20060102150405")))

	src, err := os.Open(r.DBPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return target, nil
}
