package agent

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/metrics"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

// Client talks to one agent
type Client struct {
	address     string
	dialTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *logging.Logger
}

// NewClient creates a client for the agent at host:port
func NewClient(host string, port int, m *metrics.Metrics, logger *logging.Logger) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		address:     net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: 5 * time.Second,
		metrics:     m,
		logger:      logger,
	}
}

// Address returns host:port of the agent
func (c *Client) Address() string { return c.address }

// Ping performs the PING/PONG health check. Only the exact four bytes PONG
// count as healthy.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeToken(conn, TokenPing); err != nil {
		return fmt.Errorf("ping %s: %w", c.address, err)
	}
	reply, err := readToken(conn)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.address, err)
	}
	if reply != TokenPong {
		return fmt.Errorf("%w: ping %s answered %q", ErrProtocol, c.address, reply)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("connect to agent %s: %w", c.address, err)
	}
	return conn, nil
}

// Job is one remote encode
type Job struct {
	Source  string
	TempDir string // staging directory on the agent
	// Args is the encoder argv, with Placeholder for the input path and
	// without the output path, which the agent appends.
	Args []string
	// Output is where the encoded file is written locally
	Output   string
	Interval time.Duration
	Callback monitor.Callback
	// Log, when set, receives every forwarded line
	Log *monitor.TransactionLog
}

// Result describes the end of a remote encode
type Result struct {
	ExitCode      int
	Vetoed        bool
	BytesSent     int64
	BytesReceived int64
	Duration      time.Duration
}

// Succeeded reports a zero exit with the output received
func (r *Result) Succeeded() bool {
	return !r.Vetoed && r.ExitCode == 0
}

// Run sends the source to the agent, relays its progress to the callback
// and fetches the output. Every forwarded line gets exactly one response:
// VETO when the callback asks to stop, ACK! otherwise.
func (c *Client) Run(ctx context.Context, job Job) (*Result, error) {
	src, err := os.Open(job.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	br := bufio.NewReaderSize(conn, 64*1024)

	hello := Hello{
		Size:     info.Size(),
		TempDir:  job.TempDir,
		Filename: filepath.Base(job.Source),
		Args:     job.Args,
	}.String()
	if err := writeLine(conn, hello); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	echo, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("read hello echo: %w", err)
	}
	if echo != hello {
		if strings.HasPrefix(echo, "FULL|") || strings.HasPrefix(echo, "BAD|") {
			return nil, fmt.Errorf("%w: %s", ErrRefused, echo)
		}
		return nil, fmt.Errorf("%w: hello echo mismatch %q", ErrProtocol, echo)
	}

	start := time.Now()
	result := &Result{}
	result.BytesSent, err = send(conn, src, info.Size())
	c.metrics.AddBytes("upload", result.BytesSent)
	if err != nil {
		return nil, fmt.Errorf("send source: %w", err)
	}

	status, err := c.relay(conn, br, job, result)
	result.Duration = time.Since(start)
	if err != nil || result.Vetoed {
		return result, err
	}

	result.ExitCode = status.ExitCode
	if !status.Done {
		return result, nil
	}
	if err := writeToken(conn, TokenAck); err != nil {
		return result, fmt.Errorf("ack output: %w", err)
	}
	out, err := os.Create(job.Output)
	if err != nil {
		return result, err
	}
	result.BytesReceived, err = receive(out, br, status.Size)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	c.metrics.AddBytes("download", result.BytesReceived)
	if err != nil {
		os.Remove(job.Output)
		return result, fmt.Errorf("receive output: %w", err)
	}
	return result, nil
}

// relay answers forwarded lines until the closing status arrives or the
// job is vetoed.
func (c *Client) relay(conn net.Conn, br *bufio.Reader, job Job, result *Result) (Status, error) {
	sampler := monitor.NewSampler(job.Interval)
	for {
		line, err := readLine(br)
		if err != nil {
			return Status{}, fmt.Errorf("read progress: %w", err)
		}
		if strings.HasPrefix(line, "DONE|") || strings.HasPrefix(line, "ERR|") {
			return ParseStatus(line)
		}
		if job.Log != nil {
			job.Log.Write(line)
		}

		veto := false
		if sample, ok := sampler.Offer(line); ok && job.Callback != nil {
			veto = job.Callback(sample)
		}
		if veto {
			result.Vetoed = true
			if err := writeToken(conn, TokenVeto); err != nil {
				c.logger.Warn(fmt.Sprintf("failed to deliver veto to %s: %v", c.address, err))
			}
			return Status{}, nil
		}
		if err := writeToken(conn, TokenAck); err != nil {
			return Status{}, fmt.Errorf("ack progress: %w", err)
		}
	}
}
