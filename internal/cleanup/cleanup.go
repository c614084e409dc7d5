// Package cleanup provides background retention sweeps for the daemon's
// on-disk state: today that's exclusively the Process/PTY Manager's log
// directory (spec.md section 4.7), since the core's event log lives in
// memory only (spec.md section 4.9's "persisted state layout: none").
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/driftworks/conduit/internal/logger"
)

// Cleaner performs periodic log-directory retention sweeps.
type Cleaner struct {
	logDir    string
	interval  time.Duration
	retention time.Duration
	diskWarn  float64
	diskError float64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds cleanup configuration, sourced from config.DaemonSection's
// LogRetentionDays and ProcessLogDir.
type Config struct {
	LogDir           string
	Interval         time.Duration // how often to run a sweep
	LogRetention     time.Duration // how old a log directory's newest file must be before the directory is removed
	DiskWarnPercent  float64       // warn at this disk usage percentage
	DiskErrorPercent float64       // error at this disk usage percentage
}

// DefaultConfig returns sensible defaults for a given log directory.
func DefaultConfig(logDir string) Config {
	return Config{
		LogDir:           logDir,
		Interval:         5 * time.Minute,
		LogRetention:     7 * 24 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		logDir:    cfg.LogDir,
		interval:  cfg.Interval,
		retention: cfg.LogRetention,
		diskWarn:  cfg.DiskWarnPercent,
		diskError: cfg.DiskErrorPercent,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.runCleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runCleanup()
			}
		}
	}()

	logger.Info("cleanup started (interval=%v, retention=%v)", c.interval, c.retention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Info("cleanup stopped")
	}
}

// runCleanup performs all cleanup tasks.
func (c *Cleaner) runCleanup() {
	c.cleanupTmpFiles()
	c.cleanupOldProcessLogs()
	c.checkDiskUsage()
}

// cleanupTmpFiles removes any .tmp file under the log directory that is
// older than retention. The log writers append to their files in place
// and create no .tmp files themselves.
func (c *Cleaner) cleanupTmpFiles() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	err := filepath.Walk(c.logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".tmp") {
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
		return nil
	})

	if err != nil {
		logger.Warn("cleanup: tmp file walk error: %v", err)
	}
	if removed > 0 {
		logger.Info("cleanup: removed %d orphaned .tmp files", removed)
	}
}

// cleanupOldProcessLogs removes a process's log directory
// (<logDir>/<process_id>/{stdout,stderr,combined}.log) once every file in
// it has aged past retention. The decision rests on file age alone: a
// directory is removed whether or not the pty.Manager still holds a
// record for that process (an exited process keeps its record until
// Delete, which also removes the directory).
func (c *Cleaner) cleanupOldProcessLogs() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	entries, err := os.ReadDir(c.logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		procDir := filepath.Join(c.logDir, entry.Name())
		newest, err := newestModTime(procDir)
		if err != nil || newest.IsZero() {
			continue
		}
		if newest.Before(cutoff) {
			if err := os.RemoveAll(procDir); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		logger.Info("cleanup: removed %d stale process log directories", removed)
	}
}

func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

// checkDiskUsage monitors disk usage of the log directory's filesystem and
// logs warnings.
func (c *Cleaner) checkDiskUsage() {
	_, _, percent, err := c.DiskUsage()
	if err != nil {
		return
	}

	if percent >= c.diskError {
		logger.Error("cleanup: CRITICAL disk usage at %.1f%% (log dir)", percent)
	} else if percent >= c.diskWarn {
		logger.Warn("cleanup: disk usage at %.1f%% (log dir)", percent)
	}
}

// DiskUsage returns current disk usage stats for the log directory's
// filesystem.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.logDir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return
}
