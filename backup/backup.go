// Package backup writes point-in-time snapshots of every collection.
//
// Each run creates <dir>/<UTC timestamp>/<collection>.json holding the
// collection as an indented JSON array.
package backup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stevemurr/collection-server/store"
)

const stampLayout = "20060102T150405Z"

// Scheduler runs snapshots on a cron schedule.
type Scheduler struct {
	store store.Store
	dir   string
	log   *slog.Logger
	cron  *cron.Cron

	now func() time.Time
}

// New creates a Scheduler writing snapshots under dir.
func New(s store.Store, dir string, log *slog.Logger) *Scheduler {
	return &Scheduler{store: s, dir: dir, log: log, now: time.Now}
}

// Start schedules RunOnce with a standard cron expression or descriptor
// such as "@hourly".
func (b *Scheduler) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := b.RunOnce(); err != nil {
			b.log.Error("backup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("backup schedule %q: %w", spec, err)
	}
	c.Start()
	b.cron = c
	b.log.Info("backups scheduled", "schedule", spec, "dir", b.dir)
	return nil
}

// Stop halts the schedule and waits for a running snapshot to finish.
func (b *Scheduler) Stop() {
	if b.cron == nil {
		return
	}
	<-b.cron.Stop().Done()
	b.cron = nil
}

// RunOnce snapshots every collection and returns the snapshot directory.
// Collections that fail to load are logged and skipped.
func (b *Scheduler) RunOnce() (string, error) {
	names, err := b.store.List()
	if err != nil {
		return "", fmt.Errorf("list collections: %w", err)
	}
	dir := filepath.Join(b.dir, b.now().UTC().Format(stampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	written := 0
	for _, name := range names {
		records, err := b.store.Load(name)
		if err != nil {
			b.log.Warn("backup skipped collection", "collection", name, "error", err)
			continue
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			b.log.Warn("backup skipped collection", "collection", name, "error", err)
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name+".json"), append(data, '\n'), 0o644); err != nil {
			return dir, fmt.Errorf("write snapshot of %s: %w", name, err)
		}
		written++
	}
	b.log.Info("backup written", "dir", dir, "collections", written)
	return dir, nil
}
