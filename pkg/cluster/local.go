package cluster

import (
	"context"

	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

// localExecutor runs the encoder as a child process
type localExecutor struct {
	w        *Worker
	launcher monitor.Launcher
}

func newLocalExecutor(w *Worker) *localExecutor {
	return &localExecutor{w: w, launcher: monitor.LocalLauncher{}}
}

func (e *localExecutor) check(context.Context) error { return nil }

func (e *localExecutor) prepare(run *jobRun) (*command, error) {
	opts := e.w.env.Options
	argv := encoderArgs(opts.ffmpeg(e.w.host.FFmpegPath), run.job, run.job.Path, run.output, opts.Automap)
	return &command{argv: argv, display: e.launcher.Describe(argv)}, nil
}

func (e *localExecutor) execute(ctx context.Context, run *jobRun, cmd *command) (*execution, error) {
	return runMonitored(ctx, e.w, e.launcher, cmd, run)
}

func (e *localExecutor) close() {}

// runMonitored runs cmd under a ProcessMonitor through launcher
func runMonitored(ctx context.Context, w *Worker, launcher monitor.Launcher, cmd *command, run *jobRun) (*execution, error) {
	opts := w.env.Options
	mon := monitor.New(w.id, opts.interval(), opts.TempDir, run.logger)
	res, err := mon.Run(ctx, launcher, cmd.argv, run.callback)
	if err != nil && res == nil {
		return nil, err
	}
	if err != nil {
		run.logger.Warn(err.Error())
	}
	return fromMonitor(res), nil
}
