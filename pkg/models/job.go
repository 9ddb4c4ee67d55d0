package models

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EncodeJob is one file to be encoded with one directive. It is created at
// enqueue time and never mutated afterwards.
type EncodeJob struct {
	ID        string
	Path      string
	Media     *MediaInfo
	Directive Directive
	Mixins    []string
	CreatedAt time.Time
}

// NewEncodeJob builds a job for path, resolving it to an absolute path.
func NewEncodeJob(path string, media *MediaInfo, directive Directive, mixins []string) *EncodeJob {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &EncodeJob{
		ID:        uuid.NewString(),
		Path:      path,
		Media:     media,
		Directive: directive,
		Mixins:    mixins,
		CreatedAt: time.Now(),
	}
}

// Basename returns the file name of the source
func (j *EncodeJob) Basename() string {
	return filepath.Base(j.Path)
}

// ShouldVeto decides whether an in-flight encode should be abandoned because
// it will not reach the directive's compression threshold. A threshold check
// of 100 disables mid-run aborts.
func (j *EncodeJob) ShouldVeto(pctDone, pctComp int) bool {
	check := j.Directive.ThresholdCheck()
	if check >= 100 {
		return false
	}
	return pctDone >= check && pctComp < j.Directive.Threshold()
}

// Completion records a job that must not be retried in this run
type Completion struct {
	Path    string
	Elapsed time.Duration
}

// Outcome is the terminal result of processing one job
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeVetoed    Outcome = "vetoed"
	OutcomeThreshold Outcome = "threshold_not_met"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

// Completed reports whether the outcome removes the job from future runs.
func (o Outcome) Completed() bool {
	switch o {
	case OutcomeSuccess, OutcomeVetoed, OutcomeThreshold:
		return true
	default:
		return false
	}
}
