// Package cleanup removes stale transcoder leftovers: transaction logs kept
// for failed jobs and staging files abandoned by interrupted agent sessions.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/logging"
)

// Config defines what is swept and how often
type Config struct {
	Enabled bool
	// Dirs are searched non-recursively
	Dirs []string
	// Patterns are filepath.Match globs matched against base names
	Patterns  []string
	Retention time.Duration
	Interval  time.Duration
}

// DefaultConfig sweeps transaction logs older than a week, once a day
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Dirs:      []string{os.TempDir()},
		Patterns:  []string{"transcoder-*.log"},
		Retention: 7 * 24 * time.Hour,
		Interval:  24 * time.Hour,
	}
}

// Stats tracks sweep runs
type Stats struct {
	LastSweepTime     time.Time
	LastSweepDuration time.Duration
	TotalRemoved      int64
	TotalSweeps       int64
}

// Manager runs sweeps on demand or on a timer
type Manager struct {
	config Config
	logger *logging.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a manager for config
func NewManager(config Config, logger *logging.Logger) *Manager {
	return &Manager{config: config, logger: logger, now: time.Now}
}

// Start sweeps once, then every Interval until ctx is done or Stop is called
func (m *Manager) Start(ctx context.Context) {
	if !m.config.Enabled || m.config.Interval <= 0 {
		m.logger.Debug("cleanup disabled")
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info(fmt.Sprintf("cleanup every %v, retention %v, in %v", m.config.Interval, m.config.Retention, m.config.Dirs))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		m.SweepNow()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepNow()
			}
		}
	}()
}

// Stop ends the sweep loop and waits for a running sweep to finish
func (m *Manager) Stop(context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

// SweepNow removes every matching file older than the retention period and
// returns how many were removed.
func (m *Manager) SweepNow() int {
	if !m.config.Enabled {
		return 0
	}
	start := m.now()
	cutoff := start.Add(-m.config.Retention)
	removed := 0

	for _, dir := range m.config.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			m.logger.Warn(fmt.Sprintf("cleanup: cannot read %s: %v", dir, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !m.matches(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				m.logger.Warn(fmt.Sprintf("cleanup: failed to remove %s: %v", path, err))
				continue
			}
			m.logger.Debug(fmt.Sprintf("cleanup: removed %s", path))
			removed++
		}
	}

	m.mu.Lock()
	m.stats.LastSweepTime = start
	m.stats.LastSweepDuration = time.Since(start)
	m.stats.TotalRemoved += int64(removed)
	m.stats.TotalSweeps++
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info(fmt.Sprintf("cleanup: removed %d stale files", removed))
	}
	return removed
}

func (m *Manager) matches(name string) bool {
	for _, pattern := range m.config.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// GetStats returns current sweep statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
