package report

import (
	"fmt"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
)

// Result is the record of one job on one worker. Set once at the end of
// the job, never changed.
type Result struct {
	JobID     string         `json:"job_id"`
	Path      string         `json:"path"`
	Host      string         `json:"host"`
	Queue     string         `json:"queue"`
	Directive string         `json:"directive"`
	Outcome   models.Outcome `json:"outcome"`
	ExitCode  int            `json:"exit_code"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	// LogPath is the transaction log left behind for postmortem
	LogPath string `json:"log_path,omitempty"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`

	// States is the lifecycle the job went through on its worker
	States []models.JobState `json:"states,omitempty"`
	// HostLost marks a job abandoned because its host became unreachable
	HostLost bool `json:"host_lost,omitempty"`
}

// FinalState returns the last lifecycle state reached, if any
func (r *Result) FinalState() models.JobState {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// NewResult creates a result for job finishing now
func NewResult(job *models.EncodeJob, host, queue string, outcome models.Outcome, start time.Time) *Result {
	end := time.Now()
	r := &Result{
		JobID:     job.ID,
		Path:      job.Path,
		Host:      host,
		Queue:     queue,
		Outcome:   outcome,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
	}
	if job.Directive != nil {
		r.Directive = job.Directive.Name()
	}
	return r
}

// Completion converts the result into the record that keeps the file from
// being retried, if its outcome warrants one.
func (r *Result) Completion() (models.Completion, bool) {
	if !r.Outcome.Completed() {
		return models.Completion{}, false
	}
	return models.Completion{Path: r.Path, Elapsed: r.Duration}, true
}

// LogSummary writes the one-line summary of the job
func (r *Result) LogSummary(logger *logging.Logger) {
	fields := logging.Fields{
		"host":      r.Host,
		"directive": r.Directive,
		"outcome":   string(r.Outcome),
		"elapsed":   FormatElapsed(r.Duration),
	}
	if r.LogPath != "" {
		fields["log"] = r.LogPath
	}
	if state := r.FinalState(); state != "" {
		fields["state"] = string(state)
	}
	msg := fmt.Sprintf("JOB %s | %s", r.Path, r.Outcome)
	switch r.Outcome {
	case models.OutcomeFailed, models.OutcomeError:
		if r.Error != "" {
			fields["error"] = r.Error
		}
		logger.Error(msg, fields)
	case models.OutcomeVetoed, models.OutcomeThreshold:
		logger.Warn(msg, fields)
	default:
		logger.Info(msg, fields)
	}
}

// FormatElapsed renders d as "Xm Ys"
func FormatElapsed(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
