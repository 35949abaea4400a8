package diskspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hanasu/internal/config"
	"hanasu/internal/paths"
)

// GiB is one binary gigabyte in bytes.
const GiB = 1 << 30

// Usage is one measurement of combined disk consumption.
type Usage struct {
	VideosBytes      int64
	AudioBytes       int64
	TranscriptsBytes int64
	DatabaseBytes    int64
	CacheBytes       int64
	TotalBytes       int64
	MeasuredAt       time.Time
}

// TotalGB returns the measurement in fractional gigabytes for logs.
func (u Usage) TotalGB() float64 {
	return float64(u.TotalBytes) / GiB
}

// Monitor measures usage under the two storage roots with caching and
// exposes the pause/resume thresholds.
type Monitor struct {
	layout        paths.Layout
	hardLimit     int64
	pauseAt       int64
	resumeAt      int64
	cacheDuration time.Duration

	mu       sync.Mutex
	cached   *Usage
	cachedAt time.Time
}

// NewMonitor constructs a monitor from configuration.
func NewMonitor(cfg *config.Config) *Monitor {
	return &Monitor{
		layout:        paths.NewLayout(cfg.Paths.BulkRoot, cfg.Paths.WorkRoot),
		hardLimit:     int64(cfg.Disk.HardLimitGB) * GiB,
		pauseAt:       int64(cfg.Disk.PauseThresholdGB) * GiB,
		resumeAt:      int64(cfg.Disk.ResumeThresholdGB) * GiB,
		cacheDuration: time.Duration(cfg.Disk.CacheDurationSeconds) * time.Second,
	}
}

// NewMonitorWithThresholds constructs a monitor with explicit byte
// thresholds instead of the configured gigabyte values. Used by tests that
// work with small sentinel files.
func NewMonitorWithThresholds(cfg *config.Config, hardLimit, pauseAt, resumeAt int64) *Monitor {
	monitor := NewMonitor(cfg)
	monitor.hardLimit = hardLimit
	monitor.pauseAt = pauseAt
	monitor.resumeAt = resumeAt
	return monitor
}

// Usage returns the current measurement, refreshing it when the cache has
// expired.
func (m *Monitor) Usage() (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && time.Since(m.cachedAt) < m.cacheDuration {
		return *m.cached, nil
	}

	usage, err := m.measure()
	if err != nil {
		return Usage{}, err
	}
	m.cached = &usage
	m.cachedAt = time.Now()
	return usage, nil
}

// Invalidate drops the cached measurement so the next Usage call re-walks
// the roots. Cheap and idempotent; called after any large deletion.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// ShouldPause reports whether download workers must stop claiming work.
func (m *Monitor) ShouldPause() (bool, error) {
	usage, err := m.Usage()
	if err != nil {
		return false, err
	}
	return usage.TotalBytes >= m.pauseAt, nil
}

// CanResume reports whether paused download workers may claim work again.
func (m *Monitor) CanResume() (bool, error) {
	usage, err := m.Usage()
	if err != nil {
		return false, err
	}
	return usage.TotalBytes < m.resumeAt, nil
}

// HardLimitBytes returns the absolute ceiling.
func (m *Monitor) HardLimitBytes() int64 {
	return m.hardLimit
}

func (m *Monitor) measure() (Usage, error) {
	usage := Usage{MeasuredAt: time.Now()}

	videos, err := treeSize(m.layout.BulkRoot())
	if err != nil {
		return Usage{}, err
	}
	usage.VideosBytes = videos

	workRoot := m.layout.WorkRoot()
	workTotal, err := treeSize(workRoot)
	if err != nil {
		return Usage{}, err
	}
	if usage.AudioBytes, err = treeSize(filepath.Join(workRoot, "audio")); err != nil {
		return Usage{}, err
	}
	if usage.TranscriptsBytes, err = treeSize(filepath.Join(workRoot, "transcripts")); err != nil {
		return Usage{}, err
	}
	if usage.CacheBytes, err = treeSize(m.layout.CacheDir()); err != nil {
		return Usage{}, err
	}
	if usage.DatabaseBytes, err = databaseSize(m.layout.DatabaseFile()); err != nil {
		return Usage{}, err
	}

	usage.TotalBytes = videos + workTotal
	return usage, nil
}

// treeSize sums regular file sizes under root. A missing root counts as
// zero; files that vanish mid-walk are skipped.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

// databaseSize sums the database file plus its WAL sidecars.
func databaseSize(dbPath string) (int64, error) {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
