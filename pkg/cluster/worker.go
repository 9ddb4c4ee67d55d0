package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mlsmithjr/transcoder/internal/report"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
	"github.com/mlsmithjr/transcoder/pkg/tracing"
)

// ErrHostUnavailable is returned when a host fails its pre-flight check or
// cannot be reached again during the run. A worker stops on it.
var ErrHostUnavailable = errors.New("host unavailable")

// executor runs jobs on one kind of host
type executor interface {
	// check verifies the host before the worker takes any job
	check(ctx context.Context) error
	// prepare builds the encoder command for run
	prepare(run *jobRun) (*command, error)
	// execute runs the command and leaves the encoded file at run.output
	execute(ctx context.Context, run *jobRun, cmd *command) (*execution, error)
	close()
}

// command is an encoder invocation and how to display it
type command struct {
	argv    []string
	display string
}

// execution is what an executor reports back
type execution struct {
	vetoed   bool
	exitCode int
	logPath  string
	command  string
	elapsed  time.Duration
}

func fromMonitor(res *monitor.Result) *execution {
	return &execution{
		vetoed:   res.Vetoed,
		exitCode: res.ExitCode,
		logPath:  res.LogPath,
		command:  res.Command,
		elapsed:  res.Duration,
	}
}

// jobRun carries one job through a worker
type jobRun struct {
	job     *models.EncodeJob
	tracker *models.Tracker
	// output is the local path of the encoded file before promotion
	output   string
	callback monitor.Callback
	logger   *logging.Logger
}

// advance moves the job's tracker, logging moves its lifecycle forbids
func (r *jobRun) advance(to models.JobState) {
	if err := r.tracker.Transition(to); err != nil {
		r.logger.Warn(err.Error())
	}
}

// Worker drains one queue on behalf of one host slot
type Worker struct {
	id     string
	host   *models.HostProfile
	queue  *Queue
	env    *Env
	exec   executor
	logger *logging.Logger

	mu      sync.Mutex
	results []*report.Result
}

func newWorker(host *models.HostProfile, queue *Queue, slot int, env *Env) (*Worker, error) {
	w := &Worker{
		id:    fmt.Sprintf("%s-%s-%d", host.Name, queue.Name(), slot),
		host:  host,
		queue: queue,
		env:   env,
	}
	w.logger = env.Logger.WithField("host", host.Name).WithField("queue", queue.Name())

	switch host.Kind {
	case models.HostLocal:
		w.exec = newLocalExecutor(w)
	case models.HostMounted:
		w.exec = newMountedExecutor(w)
	case models.HostStreaming:
		w.exec = newStreamingExecutor(w)
	case models.HostAgent:
		w.exec = newAgentExecutor(w)
	default:
		return nil, fmt.Errorf("%w: host %s has unknown type %q", ErrConfig, host.Name, host.Kind)
	}
	return w, nil
}

// ID names the worker by host, queue and slot
func (w *Worker) ID() string { return w.id }

// Host returns the profile of the worker's host
func (w *Worker) Host() *models.HostProfile { return w.host }

// Run checks the host and processes jobs until the queue is finished. A
// host that fails its check takes no jobs, leaving them to its peers.
func (w *Worker) Run(ctx context.Context) {
	defer w.exec.close()
	w.env.Metrics.WorkerStarted()
	defer w.env.Metrics.WorkerStopped()

	if !w.env.Options.DryRun {
		if err := w.exec.check(ctx); err != nil {
			w.logger.Error(fmt.Sprintf("%v: %v", ErrHostUnavailable, err))
			return
		}
	}

	for {
		job, ok := w.queue.Get(ctx)
		if !ok {
			return
		}
		r := w.safeProcess(ctx, job)
		w.record(r)
		if r.HostLost {
			w.logger.Error(fmt.Sprintf("%s lost, leaving remaining jobs to other hosts", w.host.Name))
			return
		}
	}
}

// Check runs the host's pre-flight check without taking any job
func (w *Worker) Check(ctx context.Context) error {
	defer w.exec.close()
	return w.exec.check(ctx)
}

// Results returns the records of every job this worker took
func (w *Worker) Results() []*report.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*report.Result(nil), w.results...)
}

// Completed returns the jobs that must not be retried
func (w *Worker) Completed() []models.Completion {
	var out []models.Completion
	for _, r := range w.Results() {
		if c, ok := r.Completion(); ok {
			out = append(out, c)
		}
	}
	return out
}

func (w *Worker) record(r *report.Result) {
	w.mu.Lock()
	w.results = append(w.results, r)
	w.mu.Unlock()

	r.LogSummary(w.logger)
	w.env.Failures.Record(r)
	w.env.Metrics.RecordJob(w.host.Name, string(r.Outcome), r.Duration)
}

// safeProcess turns a panic in one job into an error result
func (w *Worker) safeProcess(ctx context.Context, job *models.EncodeJob) (result *report.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error(fmt.Sprintf("panic processing %s: %v\n%s", job.Path, p, debug.Stack()))
			result = report.NewResult(job, w.host.Name, w.queue.Name(), models.OutcomeError, start)
			result.Error = fmt.Sprint(p)
		}
	}()
	return w.process(ctx, job, start)
}

func (w *Worker) process(ctx context.Context, job *models.EncodeJob, start time.Time) *report.Result {
	var tracker *models.Tracker
	finish := func(outcome models.Outcome) *report.Result {
		r := report.NewResult(job, w.host.Name, w.queue.Name(), outcome, start)
		if tracker != nil {
			r.States = tracker.History()
		}
		return r
	}

	if !w.host.Allows(job.Directive.Name()) {
		w.logger.Warn(fmt.Sprintf("%s not allowed to run directive %s, skipping %s", w.host.Name, job.Directive.Name(), job.Basename()))
		return finish(models.OutcomeSkipped)
	}

	tracker = models.NewTracker()
	run := &jobRun{
		job:     job,
		tracker: tracker,
		output:  OutputPath(job),
		logger:  w.logger.WithField("file", job.Basename()),
	}
	run.callback = w.progressCallback(run)
	run.advance(models.JobStatePreparing)

	cmd, err := w.exec.prepare(run)
	if err != nil {
		run.advance(models.JobStateFailed)
		r := finish(models.OutcomeError)
		r.Error = err.Error()
		return r
	}
	w.announce(job, cmd)

	if w.env.Options.DryRun {
		run.advance(models.JobStateDone)
		r := finish(models.OutcomeSkipped)
		r.Command = cmd.display
		return r
	}

	ctx, span := w.env.Tracer.Start(ctx, "encode", trace.WithAttributes(
		attribute.String("host", w.host.Name),
		attribute.String("host.kind", string(w.host.Kind)),
		attribute.String("file", job.Path),
		attribute.String("directive", job.Directive.Name()),
	))
	defer span.End()

	run.advance(models.JobStateEncoding)
	ex, err := w.exec.execute(ctx, run, cmd)
	if err != nil {
		tracing.SetError(ctx, err)
		removeQuietly(run.output)
		run.advance(models.JobStateFailed)
		r := finish(models.OutcomeError)
		r.Command = cmd.display
		r.Error = err.Error()
		r.HostLost = errors.Is(err, ErrHostUnavailable)
		return r
	}

	outcome, err := w.settle(run, ex)
	r := finish(outcome)
	r.ExitCode = ex.exitCode
	r.Command = ex.command
	r.LogPath = ex.logPath
	if ex.elapsed > 0 {
		r.Duration = ex.elapsed
	}
	if err != nil {
		tracing.SetError(ctx, err)
		r.Error = err.Error()
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return r
}

// settle applies the outcome policy to a finished execution
func (w *Worker) settle(run *jobRun, ex *execution) (models.Outcome, error) {
	job := run.job
	logger := run.logger

	if ex.vetoed {
		removeQuietly(run.output)
		run.advance(models.JobStateVetoed)
		w.env.Metrics.RecordVeto(w.host.Name)
		logger.Warn(fmt.Sprintf("encoding of %s cancelled and skipped due to threshold not met", job.Basename()))
		return models.OutcomeVetoed, nil
	}

	if ex.exitCode != 0 {
		removeQuietly(run.output)
		run.advance(models.JobStateFailed)
		logger.Error(fmt.Sprintf("did not complete normally: %s", ex.command))
		if ex.logPath != "" {
			logger.Error(fmt.Sprintf("output can be found in %s", ex.logPath))
		}
		return models.OutcomeFailed, fmt.Errorf("encoder exited with code %d", ex.exitCode)
	}

	run.advance(models.JobStateFinishing)
	ok, err := monitor.FileMeetsThreshold(job.Directive.Threshold(), job.Path, run.output)
	if err != nil {
		removeQuietly(run.output)
		run.advance(models.JobStateFailed)
		return models.OutcomeError, fmt.Errorf("threshold check: %w", err)
	}
	if !ok {
		removeQuietly(run.output)
		run.advance(models.JobStateVetoed)
		logger.Warn(fmt.Sprintf("transcoded file %s did not meet minimum savings threshold, skipped", job.Path))
		return models.OutcomeThreshold, nil
	}

	if w.env.Options.KeepSource {
		run.advance(models.JobStateDone)
		logger.Info(fmt.Sprintf("finished %s, original file unchanged", run.output))
		return models.OutcomeSuccess, nil
	}
	final := strings.TrimSuffix(run.output, ".tmp")
	if err := promote(job.Path, run.output, final, w.env.Options.Verbose, logger); err != nil {
		run.advance(models.JobStateFailed)
		return models.OutcomeError, err
	}
	run.advance(models.JobStateDone)
	logger.Info(fmt.Sprintf("finished %s", final))
	return models.OutcomeSuccess, nil
}

// progressCallback posts status and decides on a veto for each sample
func (w *Worker) progressCallback(run *jobRun) monitor.Callback {
	job := run.job
	return func(s monitor.Sample) bool {
		if job.Media == nil {
			return false
		}
		done, comp := monitor.CalculateProgress(job.Media, s)
		w.env.post(StatusEvent{
			Host:  w.host.Name,
			File:  job.Basename(),
			Speed: s.Speed,
			Comp:  comp,
			Done:  done,
		})
		return job.ShouldVeto(done, comp)
	}
}

// announce prints the job's diagnostic block in one piece
func (w *Worker) announce(job *models.EncodeJob, cmd *command) {
	if w.env.Console == nil {
		return
	}
	w.env.Console.Block(
		strings.Repeat("-", 40),
		fmt.Sprintf("Host     : %s (%s)", w.host.Name, w.host.Kind),
		fmt.Sprintf("Filename : %s", job.Basename()),
		fmt.Sprintf("Directive: %s", job.Directive.Name()),
		fmt.Sprintf("Command  : %s", cmd.display),
	)
}

// OutputPath is where the encoded file for job is written next to the
// source: the source stem, the directive's extension, then ".tmp".
func OutputPath(job *models.EncodeJob) string {
	ext := job.Directive.Extension()
	if ext == "" {
		ext = filepath.Ext(job.Path)
	}
	stem := strings.TrimSuffix(job.Path, filepath.Ext(job.Path))
	return stem + ext + ".tmp"
}

// encoderArgs assembles the encoder argv for input in and output out
func encoderArgs(ffmpeg string, job *models.EncodeJob, in, out string, automap bool) []string {
	d := job.Directive
	argv := []string{ffmpeg, "-y"}
	argv = append(argv, d.InputOptions()...)
	argv = append(argv, "-i", in)
	argv = append(argv, d.OutputOptions(job.Mixins)...)
	if automap && job.Media != nil && job.Media.IsMultistream() {
		argv = append(argv, d.StreamMap(job.Media.VideoStream, job.Media.Audio, job.Media.Subtitle)...)
	}
	return append(argv, out)
}

// promote replaces source with the encoded output
func promote(source, output, final string, verbose bool, logger *logging.Logger) error {
	if verbose {
		logger.Info(fmt.Sprintf("removing %s", source))
	}
	if err := os.Remove(source); err != nil {
		return fmt.Errorf("failed to remove source: %w", err)
	}
	if verbose {
		logger.Info(fmt.Sprintf("renaming %s to %s", output, final))
	}
	if err := moveFile(output, final); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func removeQuietly(path string) {
	if path != "" {
		os.Remove(path)
	}
}
