package cluster

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mlsmithjr/transcoder/pkg/remote"
)

// streamingExecutor copies the source to the host's working directory,
// encodes it there over ssh and copies the result back.
type streamingExecutor struct {
	sshHost
}

func newStreamingExecutor(w *Worker) *streamingExecutor {
	return &streamingExecutor{sshHost: newSSHHost(w)}
}

func (e *streamingExecutor) remotePaths(run *jobRun) (string, string) {
	host := e.w.host
	in := remote.JoinPath(host.OS, host.WorkingDir, filepath.Base(run.job.Path))
	return in, in + ".tmp"
}

func (e *streamingExecutor) prepare(run *jobRun) (*command, error) {
	opts := e.w.env.Options
	host := e.w.host
	in, out := e.remotePaths(run)
	argv := encoderArgs(opts.ffmpeg(host.FFmpegPath), run.job,
		remote.ConvertPath(host.OS, in), remote.ConvertPath(host.OS, out), opts.Automap)
	return &command{argv: argv, display: e.describe(argv)}, nil
}

func (e *streamingExecutor) execute(ctx context.Context, run *jobRun, cmd *command) (*execution, error) {
	metrics := e.w.env.Metrics
	in, out := e.remotePaths(run)
	client, err := e.connection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, path := range []string{in, out} {
			if err := client.Remove(context.WithoutCancel(ctx), path); err != nil {
				run.logger.Warn(err.Error())
			}
		}
	}()

	run.logger.Info(fmt.Sprintf("copying %s to %s:%s", run.job.Path, e.cfg.Target(), e.w.host.WorkingDir))
	sent, err := client.Upload(ctx, run.job.Path, e.w.host.WorkingDir)
	metrics.AddBytes("upload", sent)
	if err != nil {
		return nil, fmt.Errorf("error copying source to remote: %w", err)
	}

	ex, err := runMonitored(ctx, e.w, client.Launcher(), cmd, run)
	if err != nil || ex.vetoed || ex.exitCode != 0 {
		return ex, err
	}

	run.logger.Info(fmt.Sprintf("retrieving %s:%s", e.cfg.Target(), out))
	received, err := client.Download(ctx, out, run.output)
	metrics.AddBytes("download", received)
	if err != nil {
		return nil, fmt.Errorf("error copying result from remote: %w", err)
	}
	return ex, nil
}
