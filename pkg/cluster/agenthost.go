package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/agent"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

// agentExecutor hands jobs to a remote agent over its TCP protocol
type agentExecutor struct {
	w      *Worker
	client *agent.Client
}

func newAgentExecutor(w *Worker) *agentExecutor {
	return &agentExecutor{
		w:      w,
		client: agent.NewClient(w.host.Address, w.host.AgentPort(), w.env.Metrics, w.logger),
	}
}

func (e *agentExecutor) check(ctx context.Context) error {
	return e.client.Ping(ctx)
}

// tempDir is the agent-side staging directory
func (e *agentExecutor) tempDir() string {
	if e.w.host.WorkingDir != "" {
		return e.w.host.WorkingDir
	}
	if e.w.host.IsWindows() {
		return `C:\Temp`
	}
	return "/tmp"
}

func (e *agentExecutor) prepare(run *jobRun) (*command, error) {
	opts := e.w.env.Options
	argv := encoderArgs(opts.ffmpeg(e.w.host.FFmpegPath), run.job, agent.Placeholder, "", opts.Automap)
	// the agent appends its own output path
	argv = argv[:len(argv)-1]
	display := fmt.Sprintf("agent %s %s", e.client.Address(), strings.Join(argv, " "))
	return &command{argv: argv, display: display}, nil
}

func (e *agentExecutor) execute(ctx context.Context, run *jobRun, cmd *command) (*execution, error) {
	opts := e.w.env.Options
	txlog, err := monitor.OpenTransactionLog(opts.TempDir, "transcoder", e.w.id)
	if err != nil {
		return nil, err
	}

	run.logger.Info(fmt.Sprintf("sending %s to agent %s", run.job.Path, e.client.Address()))
	res, err := e.client.Run(ctx, agent.Job{
		Source:   run.job.Path,
		TempDir:  e.tempDir(),
		Args:     cmd.argv,
		Output:   run.output,
		Interval: opts.interval(),
		Callback: run.callback,
		Log:      txlog,
	})
	keep := err != nil || res == nil || !res.Succeeded()
	ex := &execution{command: cmd.display}
	if keep {
		ex.logPath = txlog.Path()
	}
	txlog.Close(keep)
	if err != nil {
		if ping := e.client.Ping(context.WithoutCancel(ctx)); ping != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: agent %s: %v", ErrHostUnavailable, e.client.Address(), err)
		}
		return nil, fmt.Errorf("agent %s: %w", e.client.Address(), err)
	}

	ex.vetoed = res.Vetoed
	ex.exitCode = res.ExitCode
	ex.elapsed = res.Duration
	if res.ExitCode != 0 {
		run.logger.Error(fmt.Sprintf("agent returned process error code %d", res.ExitCode))
	}
	return ex, nil
}

func (e *agentExecutor) close() {}
