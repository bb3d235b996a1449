package normalize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/audiolens/masterqc/internal/conf"
)

// StartSweeper launches the background temp-file sweeper and returns a
// channel closed when the sweeper goroutine has exited. Each tick removes
// temp files older than the configured max age; when the temp volume's
// usage exceeds the configured ceiling, age no longer matters and every
// orphaned temp file goes.
func (n *Normalizer) StartSweeper(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(n.sweepInterval)
		defer ticker.Stop()
		n.logger.Info("temp sweeper started",
			"dir", n.tempDir, "interval", n.sweepInterval, "max_age", n.maxAge)
		for {
			select {
			case <-ctx.Done():
				n.logger.Debug("temp sweeper stopped")
				return
			case <-ticker.C:
				n.sweep()
			}
		}
	}()
	return done
}

// sweep performs one cleanup pass and returns the number of files removed.
func (n *Normalizer) sweep() int {
	entries, err := os.ReadDir(n.tempDir)
	if err != nil {
		n.logger.Warn("temp sweep failed to list directory", "dir", n.tempDir, "error", err)
		return 0
	}

	pressure := n.underDiskPressure()
	cutoff := time.Now().Add(-n.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), conf.TempFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !pressure && info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(n.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			n.logger.Warn("temp sweep failed to remove file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		n.logger.Info("temp sweep removed orphaned files",
			"removed", removed, "disk_pressure", pressure)
	}
	return removed
}

// underDiskPressure reports whether the temp volume's usage exceeds the
// configured ceiling. Always false when the guard is disabled.
func (n *Normalizer) underDiskPressure() bool {
	if n.maxUsage <= 0 {
		return false
	}
	usage, err := disk.Usage(n.tempDir)
	if err != nil {
		n.logger.Debug("disk usage check failed", "dir", n.tempDir, "error", err)
		return false
	}
	return usage.UsedPercent > n.maxUsage
}
