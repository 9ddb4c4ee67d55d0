package cluster

import (
	"context"
	"fmt"

	"github.com/mlsmithjr/transcoder/pkg/remote"
)

// sshHost holds the connection shared by the ssh-based executors
type sshHost struct {
	w      *Worker
	cfg    remote.Config
	client *remote.Client
}

func newSSHHost(w *Worker) sshHost {
	opts := w.env.Options
	identity := w.host.IdentityFile
	if identity == "" {
		identity = opts.IdentityFile
	}
	return sshHost{
		w: w,
		cfg: remote.Config{
			User:             w.host.User,
			Address:          w.host.Address,
			Port:             w.host.Port,
			OS:               w.host.OS,
			IdentityFile:     identity,
			KnownHosts:       opts.KnownHosts,
			InsecureHostKeys: opts.InsecureHostKeys,
		},
	}
}

// check pings the host, then proves the ssh account works
func (h *sshHost) check(ctx context.Context) error {
	if err := remote.Ping(ctx, h.cfg.Address); err != nil {
		return err
	}
	client, err := remote.Dial(ctx, h.cfg, h.w.logger)
	if err != nil {
		return err
	}
	if err := client.Test(ctx); err != nil {
		client.Close()
		return fmt.Errorf("ssh test on %s: %w", h.cfg.Target(), err)
	}
	h.client = client
	return nil
}

// connection returns a live client, dialing again when the previous one has
// dropped. A host that cannot be reached again is ErrHostUnavailable.
func (h *sshHost) connection(ctx context.Context) (*remote.Client, error) {
	if h.client != nil {
		err := h.client.Alive()
		if err == nil {
			return h.client, nil
		}
		h.w.logger.Warn(fmt.Sprintf("connection to %s dropped: %v, reconnecting", h.cfg.Target(), err))
		h.close()
	}
	if err := h.check(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	return h.client, nil
}

func (h *sshHost) describe(argv []string) string {
	return remote.DescribeCommand(h.cfg, argv)
}

func (h *sshHost) close() {
	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
}

// mountedExecutor runs the encoder over ssh on a host that sees the media
// through a shared filesystem, translating paths as configured.
type mountedExecutor struct {
	sshHost
}

func newMountedExecutor(w *Worker) *mountedExecutor {
	return &mountedExecutor{sshHost: newSSHHost(w)}
}

func (e *mountedExecutor) prepare(run *jobRun) (*command, error) {
	opts := e.w.env.Options
	host := e.w.host
	in, out := host.SubstitutePaths(run.job.Path, run.output)
	in = remote.ConvertPath(host.OS, in)
	out = remote.ConvertPath(host.OS, out)

	argv := encoderArgs(opts.ffmpeg(host.FFmpegPath), run.job, in, out, opts.Automap)
	return &command{argv: argv, display: e.describe(argv)}, nil
}

func (e *mountedExecutor) execute(ctx context.Context, run *jobRun, cmd *command) (*execution, error) {
	client, err := e.connection(ctx)
	if err != nil {
		return nil, err
	}
	return runMonitored(ctx, e.w, client.Launcher(), cmd, run)
}
