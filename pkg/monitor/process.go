package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Process is a started encoder whose combined stdout and stderr can be read
// as one stream.
type Process interface {
	Output() io.Reader
	// Wait blocks until exit and returns the exit code. The error is
	// reserved for failures to observe the process, not nonzero exits.
	Wait() (int, error)
	Kill() error
}

// Launcher starts encoder processes somewhere: locally, over ssh, ...
type Launcher interface {
	Launch(ctx context.Context, argv []string) (Process, error)
	// Describe renders the command line as it will actually run
	Describe(argv []string) string
}

// LocalLauncher runs commands as child processes of this one
type LocalLauncher struct{}

func (LocalLauncher) Describe(argv []string) string {
	return strings.Join(argv, " ")
}

// Launch starts argv with stdout and stderr joined into one pipe
func (LocalLauncher) Launch(ctx context.Context, argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	// grandchildren holding the pipe open must not stall Wait after a kill
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	p := &localProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		pw.Close()
		p.code, p.err = exitCode(err)
		close(p.done)
	}()
	return p, nil
}

type localProcess struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan struct{}
	code int
	err  error
	once sync.Once
}

func (p *localProcess) Output() io.Reader { return p.out }

func (p *localProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// Kill stops the process and unblocks its output copier, so Wait returns
// even if nobody reads the remaining output.
func (p *localProcess) Kill() error {
	var err error
	p.once.Do(func() {
		err = p.cmd.Process.Kill()
		p.out.Close()
	})
	return err
}

// exitCode extracts the exit status from the error returned by Wait
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
