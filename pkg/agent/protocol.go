// Package agent implements the TCP protocol between a dispatcher and a
// remote encoding agent: health check, file hand-off, line-by-line progress
// with backpressure, and result retrieval.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the well-known agent port
	DefaultPort = 9567

	// Placeholder marks the argument replaced with the received file path
	Placeholder = "{FILENAME}"

	// receiveChunk caps each read of an incoming file
	receiveChunk = 4096
	// sendChunk is the size of each write of an outgoing file
	sendChunk = 1_000_000
	// maxLine bounds control and progress lines
	maxLine = 1024 * 1024
)

// Four-byte tokens
const (
	TokenPing = "PING"
	TokenPong = "PONG"
	TokenAck  = "ACK!"
	TokenStop = "STOP"
	TokenVeto = "VETO"
)

var (
	// ErrProtocol reports a peer that broke the message sequence
	ErrProtocol = errors.New("agent protocol violation")
	// ErrRefused reports a HELLO the agent declined
	ErrRefused = errors.New("agent refused job")
)

// Hello opens a job: the payload size, where the agent should stage it, the
// file name, and the encoder argv with Placeholder standing for the input.
type Hello struct {
	Size     int64
	TempDir  string
	Filename string
	Args     []string
}

// String renders the HELLO line without its terminator. Arguments are
// joined with '$' since they may contain spaces.
func (h Hello) String() string {
	return strings.Join([]string{
		"HELLO",
		strconv.FormatInt(h.Size, 10),
		h.TempDir,
		h.Filename,
		strings.Join(h.Args, "$"),
	}, "|")
}

// ParseHello decodes a HELLO line
func ParseHello(line string) (Hello, error) {
	parts := strings.SplitN(line, "|", 5)
	if len(parts) != 5 || parts[0] != "HELLO" {
		return Hello{}, fmt.Errorf("%w: malformed hello %q", ErrProtocol, line)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return Hello{}, fmt.Errorf("%w: bad size in hello %q", ErrProtocol, line)
	}
	if parts[2] == "" || parts[3] == "" || parts[4] == "" {
		return Hello{}, fmt.Errorf("%w: empty field in hello %q", ErrProtocol, line)
	}
	return Hello{
		Size:     size,
		TempDir:  parts[2],
		Filename: parts[3],
		Args:     strings.Split(parts[4], "$"),
	}, nil
}

// Status is the server's closing report for a job that was not vetoed
type Status struct {
	Done     bool
	ExitCode int
	Size     int64
}

func (s Status) String() string {
	if s.Done {
		return fmt.Sprintf("DONE|%d|%d", s.ExitCode, s.Size)
	}
	return fmt.Sprintf("ERR|%d", s.ExitCode)
}

// ParseStatus decodes a DONE or ERR line
func ParseStatus(line string) (Status, error) {
	parts := strings.Split(line, "|")
	switch {
	case parts[0] == "ERR" && len(parts) == 2:
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return Status{}, fmt.Errorf("%w: bad exit code %q", ErrProtocol, line)
		}
		return Status{ExitCode: code}, nil
	case parts[0] == "DONE" && len(parts) == 3:
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return Status{}, fmt.Errorf("%w: bad exit code %q", ErrProtocol, line)
		}
		size, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || size < 0 {
			return Status{}, fmt.Errorf("%w: bad size %q", ErrProtocol, line)
		}
		return Status{Done: true, ExitCode: code, Size: size}, nil
	}
	return Status{}, fmt.Errorf("%w: unexpected status %q", ErrProtocol, line)
}

func writeLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

// readLine reads one \n-terminated line, without the terminator
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > maxLine {
			return "", fmt.Errorf("%w: line too long", ErrProtocol)
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}

func writeToken(w io.Writer, token string) error {
	_, err := io.WriteString(w, token)
	return err
}

func readToken(r io.Reader) (string, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	return string(buf[:]), nil
}

// receive copies exactly size bytes from r to w in chunks of at most
// receiveChunk bytes.
func receive(w io.Writer, r io.Reader, size int64) (int64, error) {
	buf := make([]byte, receiveChunk)
	var total int64
	for total < size {
		want := size - total
		if want > receiveChunk {
			want = receiveChunk
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && total < size {
				return total, fmt.Errorf("%w: stream ended after %d of %d bytes", ErrProtocol, total, size)
			}
			if total < size {
				return total, err
			}
		}
	}
	return total, nil
}

// send copies exactly size bytes from r to w in sendChunk writes
func send(w io.Writer, r io.Reader, size int64) (int64, error) {
	buf := make([]byte, sendChunk)
	var total int64
	for total < size {
		want := size - total
		if want > sendChunk {
			want = sendChunk
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			return total, fmt.Errorf("short read after %d of %d bytes: %w", total, size, err)
		}
	}
	return total, nil
}
