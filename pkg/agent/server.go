package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/metrics"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

// ServerConfig configures an agent listener
type ServerConfig struct {
	Address string
	// FFmpegPath, when set, replaces the program named by the client
	FFmpegPath string
	// IdleTimeout bounds waits for the client between steps
	IdleTimeout time.Duration
}

// Server accepts one connection at a time and runs the encoder for it
type Server struct {
	cfg      ServerConfig
	launcher monitor.Launcher
	metrics  *metrics.Metrics
	logger   *logging.Logger
	// freeSpace reports free bytes at a path
	freeSpace func(path string) (uint64, error)
}

// NewServer creates an agent server running encoders as local processes
func NewServer(cfg ServerConfig, m *metrics.Metrics, logger *logging.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	return &Server{
		cfg:       cfg,
		launcher:  monitor.LocalLauncher{},
		metrics:   m,
		logger:    logger,
		freeSpace: diskFree,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// ListenAndServe listens on the configured address until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections from ln sequentially. Cancelling ctx closes the
// listener and kills any running encoder.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	s.logger.Info(fmt.Sprintf("agent listening on %s", ln.Addr()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := conn.RemoteAddr().String()
	logger := s.logger.WithField("peer", peer)
	conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
	br := bufio.NewReaderSize(conn, 64*1024)

	if head, err := br.Peek(4); err == nil && string(head) == TokenPing {
		br.Discard(4)
		writeToken(conn, TokenPong)
		logger.Debug("answered ping")
		s.metrics.RecordSession("ping")
		return
	}

	result, err := s.session(ctx, conn, br, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("session aborted: %v", err))
		s.metrics.RecordSession("aborted")
		return
	}
	logger.Info(fmt.Sprintf("session finished: %s", result))
	s.metrics.RecordSession(result)
}

// session runs one job and returns a short result label
func (s *Server) session(ctx context.Context, conn net.Conn, br *bufio.Reader, logger *logging.Logger) (string, error) {
	line, err := readLine(br)
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	hello, err := ParseHello(line)
	if err != nil {
		writeLine(conn, "BAD|"+err.Error())
		return "", err
	}
	if err := s.admit(hello); err != nil {
		writeLine(conn, err.Error())
		return "", fmt.Errorf("%w: %v", ErrRefused, err)
	}
	if err := writeLine(conn, line); err != nil {
		return "", err
	}

	inPath := filepath.Join(hello.TempDir, filepath.Base(hello.Filename))
	outPath := inPath + ".tmp"
	defer func() {
		os.Remove(inPath)
		os.Remove(outPath)
	}()

	if err := s.receiveInput(conn, br, inPath, hello.Size); err != nil {
		return "", err
	}
	logger.Info(fmt.Sprintf("received %s (%d bytes)", inPath, hello.Size))

	argv := s.command(hello.Args, inPath, outPath)
	logger.Debug("starting encoder", logging.Fields{"command": strings.Join(argv, " ")})
	proc, err := s.launcher.Launch(ctx, argv)
	if err != nil {
		writeLine(conn, Status{ExitCode: -1}.String())
		return "", err
	}

	stopped, streamErr := s.stream(conn, br, proc)
	if stopped || streamErr != nil {
		proc.Kill()
	}
	code, waitErr := proc.Wait()
	switch {
	case streamErr != nil:
		return "", streamErr
	case stopped:
		return "vetoed", nil
	case waitErr != nil:
		writeLine(conn, Status{ExitCode: -1}.String())
		return "", waitErr
	case code != 0:
		writeLine(conn, Status{ExitCode: code}.String())
		return "failed", nil
	}

	if err := s.sendOutput(conn, br, outPath, code); err != nil {
		return "", err
	}
	return "done", nil
}

// admit refuses jobs whose temp dir is unusable or too small for the input
// and the encoded output.
func (s *Server) admit(h Hello) error {
	if err := os.MkdirAll(h.TempDir, 0o755); err != nil {
		return fmt.Errorf("BAD|cannot use %s: %v", h.TempDir, err)
	}
	free, err := s.freeSpace(h.TempDir)
	if err != nil {
		return fmt.Errorf("BAD|cannot stat %s: %v", h.TempDir, err)
	}
	if need := uint64(h.Size) * 2; free < need {
		return fmt.Errorf("FULL|%d bytes free in %s, need %d", free, h.TempDir, need)
	}
	return nil
}

func (s *Server) receiveInput(conn net.Conn, br *bufio.Reader, path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	conn.SetReadDeadline(time.Time{})
	n, err := receive(f, br, size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	s.metrics.AddBytes("download", n)
	if err != nil {
		return fmt.Errorf("receive input: %w", err)
	}
	return nil
}

// command substitutes the received path and appends the output path
func (s *Server) command(args []string, inPath, outPath string) []string {
	argv := make([]string, 0, len(args)+1)
	for _, a := range args {
		argv = append(argv, strings.ReplaceAll(a, Placeholder, inPath))
	}
	if s.cfg.FFmpegPath != "" && len(argv) > 0 {
		argv[0] = s.cfg.FFmpegPath
	}
	return append(argv, outPath)
}

// stream forwards encoder output one line at a time, waiting for the
// client's token after each. It reports whether the client stopped the job.
func (s *Server) stream(conn net.Conn, br *bufio.Reader, proc monitor.Process) (bool, error) {
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	scanner.Split(monitor.ScanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "video:") {
			break
		}
		conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
		if err := writeLine(conn, line); err != nil {
			return false, fmt.Errorf("forward output: %w", err)
		}
		token, err := readToken(br)
		if err != nil {
			return false, fmt.Errorf("read response: %w", err)
		}
		switch token {
		case TokenAck:
		case TokenStop, TokenVeto:
			return true, nil
		default:
			return false, fmt.Errorf("%w: unexpected response %q", ErrProtocol, token)
		}
	}
	io.Copy(io.Discard, proc.Output())
	return false, nil
}

func (s *Server) sendOutput(conn net.Conn, br *bufio.Reader, path string, code int) error {
	f, err := os.Open(path)
	if err != nil {
		writeLine(conn, Status{ExitCode: -1}.String())
		return fmt.Errorf("encoder left no output: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeLine(conn, Status{ExitCode: -1}.String())
		return err
	}

	conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
	if err := writeLine(conn, Status{Done: true, ExitCode: code, Size: info.Size()}.String()); err != nil {
		return err
	}
	token, err := readToken(br)
	if err != nil {
		return fmt.Errorf("read output ack: %w", err)
	}
	if token != TokenAck {
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, TokenAck, token)
	}
	conn.SetDeadline(time.Time{})
	n, err := send(conn, f, info.Size())
	s.metrics.AddBytes("upload", n)
	if err != nil {
		return fmt.Errorf("send output: %w", err)
	}
	return nil
}
