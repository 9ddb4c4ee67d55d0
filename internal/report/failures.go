package report

import (
	"sync"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// Failure is a failed job worth a look
type Failure struct {
	Path    string `json:"path"`
	Host    string `json:"host"`
	Command string `json:"command"`
	LogPath string `json:"log_path"`
	Reason  string `json:"reason"`
}

// FailureLog keeps the most recent failures in a ring buffer
type FailureLog struct {
	samples []Failure
	maxSize int
	mu      sync.RWMutex
}

// NewFailureLog creates a failure log holding at most maxSize entries
func NewFailureLog(maxSize int) *FailureLog {
	return &FailureLog{
		samples: make([]Failure, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds r if it failed or errored
func (f *FailureLog) Record(r *Result) {
	if r.Outcome != models.OutcomeFailed && r.Outcome != models.OutcomeError {
		return
	}
	sample := Failure{
		Path:    r.Path,
		Host:    r.Host,
		Command: r.Command,
		LogPath: r.LogPath,
		Reason:  r.Error,
	}
	if sample.Reason == "" {
		sample.Reason = string(r.Outcome)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) >= f.maxSize {
		f.samples = f.samples[1:]
	}
	f.samples = append(f.samples, sample)
}

// Recent returns up to n of the latest failures, oldest first
func (f *FailureLog) Recent(n int) []Failure {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if n > len(f.samples) {
		n = len(f.samples)
	}
	out := make([]Failure, n)
	copy(out, f.samples[len(f.samples)-n:])
	return out
}
