package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/logging"
)

// Callback receives each progress sample and returns true to veto the run
type Callback func(Sample) bool

// Result describes how a monitored run ended
type Result struct {
	ExitCode int
	Vetoed   bool
	// LogPath is the transaction log, empty when it was removed
	LogPath  string
	Command  string
	Duration time.Duration
}

// Succeeded reports a normal, zero exit
func (r *Result) Succeeded() bool {
	return !r.Vetoed && r.ExitCode == 0
}

// Monitor runs an encoder, records its output and lets a callback abort it
// based on periodic progress samples.
type Monitor struct {
	Name     string // worker name, used in the transaction log file name
	Program  string
	Interval time.Duration
	TempDir  string
	logger   *logging.Logger
}

// New creates a monitor for the named worker
func New(name string, interval time.Duration, tempDir string, logger *logging.Logger) *Monitor {
	return &Monitor{
		Name:     name,
		Program:  "transcoder",
		Interval: interval,
		TempDir:  tempDir,
		logger:   logger,
	}
}

// Run launches argv, streams its output into the transaction log and feeds
// sampled status lines to cb. When cb returns true the process is killed at
// once and the result is marked vetoed.
func (m *Monitor) Run(ctx context.Context, launcher Launcher, argv []string, cb Callback) (*Result, error) {
	result := &Result{Command: launcher.Describe(argv)}

	txlog, err := OpenTransactionLog(m.TempDir, m.Program, m.Name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	proc, err := launcher.Launch(ctx, argv)
	if err != nil {
		txlog.Close(false)
		return nil, err
	}

	sampler := NewSampler(m.Interval)
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		line := scanner.Text()
		txlog.Write(line)

		sample, ok := sampler.Offer(line)
		if !ok || cb == nil {
			continue
		}
		if cb(sample) {
			result.Vetoed = true
			if err := proc.Kill(); err != nil {
				m.logger.Warn(fmt.Sprintf("failed to kill vetoed encoder: %v", err))
			}
			break
		}
	}
	if err := scanner.Err(); err != nil && !result.Vetoed {
		m.logger.Warn(fmt.Sprintf("encoder output unreadable, draining: %v", err))
		io.Copy(io.Discard, proc.Output())
	}

	code, waitErr := proc.Wait()
	result.Duration = time.Since(start)
	result.ExitCode = code

	keep := result.Vetoed || code != 0 || waitErr != nil
	if keep {
		result.LogPath = txlog.Path()
	}
	if err := txlog.Close(keep); err != nil {
		m.logger.Debug(fmt.Sprintf("transaction log close: %v", err))
	}

	if waitErr != nil && !result.Vetoed {
		return result, fmt.Errorf("encoder did not finish: %w", waitErr)
	}
	return result, nil
}
