package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
	"github.com/mlsmithjr/transcoder/pkg/retry"
)

// Config describes how to reach one ssh host
type Config struct {
	User         string
	Address      string
	Port         int
	OS           string
	IdentityFile string
	KnownHosts   string
	// InsecureHostKeys skips verification when known_hosts is missing
	InsecureHostKeys bool
	Timeout          time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// Target is the user@host form used in diagnostics
func (c Config) Target() string {
	return c.User + "@" + c.Address
}

// Client is a connected ssh session factory for one host
type Client struct {
	cfg    Config
	client *ssh.Client
	logger *logging.Logger
}

// Dial connects and authenticates, retrying transient network failures
func Dial(ctx context.Context, cfg Config, logger *logging.Logger) (*Client, error) {
	clientCfg, err := clientConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	var client *ssh.Client
	err = retry.Do(ctx, retry.QuickConfig(), func() error {
		dialer := net.Dialer{Timeout: clientCfg.Timeout}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
		if err != nil {
			return err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, cfg.addr(), clientCfg)
		if err != nil {
			conn.Close()
			return err
		}
		client = ssh.NewClient(c, chans, reqs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", cfg.Target(), err)
	}
	return &Client{cfg: cfg, client: client, logger: logger}, nil
}

func clientConfig(cfg Config, logger *logging.Logger) (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auths = append(auths, ssh.PublicKeysCallback(sshagent.NewClient(conn).Signers))
		}
	}
	if signers := loadIdentities(cfg.IdentityFile, logger); len(signers) > 0 {
		auths = append(auths, ssh.PublicKeys(signers...))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("ssh %s: no agent or identity file available", cfg.Target())
	}

	hostKeys, err := hostKeyCallback(cfg.KnownHosts, cfg.InsecureHostKeys, logger)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}, nil
}

func loadIdentities(explicit string, logger *logging.Logger) []ssh.Signer {
	candidates := []string{explicit}
	if explicit == "" {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			candidates = append(candidates, filepath.Join(home, ".ssh", name))
		}
	}
	var signers []ssh.Signer
	for _, path := range candidates {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logger.Warn(fmt.Sprintf("skipping identity %s: %v", path, err))
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

// ErrNoKnownHosts is returned when host keys cannot be verified and the
// insecure fallback is not enabled
var ErrNoKnownHosts = errors.New("known_hosts not available")

func hostKeyCallback(path string, insecure bool, logger *logging.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(path); err != nil {
		if !insecure {
			return nil, fmt.Errorf("%w: %s (set insecure_host_keys to connect without verification)", ErrNoKnownHosts, path)
		}
		logger.Warn(fmt.Sprintf("%s not found, host keys will not be verified", path))
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// Close releases the connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Alive sends a keepalive request and fails once the connection is gone
func (c *Client) Alive() error {
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

// OS returns the remote operating system
func (c *Client) OS() string { return c.cfg.OS }

// Run executes command and returns its combined output. Cancelling ctx
// closes the session.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	out, err := session.CombinedOutput(command)
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	return string(out), err
}

// Test runs a trivial command to prove the account works
func (c *Client) Test(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := "ls"
	if c.cfg.OS == models.OSWin10 {
		cmd = "dir"
	}
	if out, err := c.Run(ctx, cmd); err != nil {
		return fmt.Errorf("ssh test failed: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

// Remove deletes a remote file, ignoring files that are already gone
func (c *Client) Remove(ctx context.Context, path string) error {
	var cmd string
	if c.cfg.OS == models.OSWin10 {
		cmd = "del " + QuoteArg(c.cfg.OS, ConvertPath(c.cfg.OS, path))
	} else {
		cmd = "rm -f " + QuoteArg(c.cfg.OS, path)
	}
	out, err := c.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("remove %s: %w: %s", path, err, strings.TrimSpace(out))
	}
	return nil
}

// Launcher returns a monitor.Launcher running argv on this host
func (c *Client) Launcher() *Launcher {
	return &Launcher{client: c}
}

// Launcher starts encoder processes over ssh
type Launcher struct {
	client *Client
}

// Describe renders the command as an equivalent ssh invocation
func (l *Launcher) Describe(argv []string) string {
	return DescribeCommand(l.client.cfg, argv)
}

// DescribeCommand renders argv as the ssh command line that runs it on the
// host of cfg. No connection is needed.
func DescribeCommand(cfg Config, argv []string) string {
	return "ssh " + cfg.Target() + " " + JoinArgs(cfg.OS, argv)
}

// Launch starts argv in a new session with stdout and stderr merged
func (l *Launcher) Launch(ctx context.Context, argv []string) (monitor.Process, error) {
	session, err := l.client.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw
	if err := session.Start(JoinArgs(l.client.cfg.OS, argv)); err != nil {
		session.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start remote command: %w", err)
	}

	p := &sshProcess{session: session, out: pr, done: make(chan struct{})}
	stop := context.AfterFunc(ctx, func() { p.Kill() })
	go func() {
		err := session.Wait()
		stop()
		pw.Close()
		p.mu.Lock()
		killed := p.killed
		p.mu.Unlock()
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case err == nil:
			p.code = 0
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitStatus()
		case killed || errors.As(err, &missing):
			p.code = -1
		default:
			p.code, p.err = -1, err
		}
		close(p.done)
	}()
	return p, nil
}

type sshProcess struct {
	session *ssh.Session
	out     *io.PipeReader
	done    chan struct{}
	code    int
	err     error
	mu      sync.Mutex
	killed  bool
}

func (p *sshProcess) Output() io.Reader { return p.out }

func (p *sshProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// Kill signals the remote process and tears down the session. Servers that
// ignore signal requests still lose the channel and the process its stdout.
func (p *sshProcess) Kill() error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.mu.Unlock()

	p.session.Signal(ssh.SIGKILL)
	err := p.session.Close()
	p.out.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
