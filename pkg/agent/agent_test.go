package agent

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

const statusLine = "frame=  307 fps= 86 q=-0.0 size=    3481kB time=00:00:13.03 bitrate=2187.9kbits/s speed=3.67x"

type fakeProcess struct {
	out    io.Reader
	code   int
	mu     sync.Mutex
	killed bool
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Wait() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return -1, nil
	}
	return p.code, nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeEncoder prints lines, then writes output to its last argument
type fakeEncoder struct {
	lines  []string
	code   int
	output string

	mu    sync.Mutex
	argv  []string
	input []byte
	proc  *fakeProcess
}

func (e *fakeEncoder) Describe(argv []string) string { return strings.Join(argv, " ") }

func (e *fakeEncoder) Launch(_ context.Context, argv []string) (monitor.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.argv = argv
	for _, a := range argv {
		if strings.HasSuffix(a, ".mkv") {
			e.input, _ = os.ReadFile(a)
		}
	}
	if e.code == 0 {
		if err := os.WriteFile(argv[len(argv)-1], []byte(e.output), 0o644); err != nil {
			return nil, err
		}
	}
	text := ""
	if len(e.lines) > 0 {
		text = strings.Join(e.lines, "\n") + "\n"
	}
	e.proc = &fakeProcess{out: strings.NewReader(text), code: e.code}
	return e.proc, nil
}

func (e *fakeEncoder) started() (*fakeProcess, []string, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc, e.argv, e.input
}

func startServer(t *testing.T, enc monitor.Launcher, free uint64) (*Server, int) {
	t.Helper()
	srv := NewServer(ServerConfig{Address: "127.0.0.1:0", IdleTimeout: 10 * time.Second}, nil, logging.Discard())
	srv.launcher = enc
	srv.freeSpace = func(string) (uint64, error) { return free, nil }

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return srv, ln.Addr().(*net.TCPAddr).Port
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHelloString(t *testing.T) {
	h := Hello{
		Size:     2048,
		TempDir:  "/tmp",
		Filename: "My Movie.mkv",
		Args:     []string{"ffmpeg", "-y", "-i", Placeholder, "-metadata", "title=My Movie"},
	}
	line := h.String()
	assert.Equal(t, "HELLO|2048|/tmp|My Movie.mkv|ffmpeg$-y$-i${FILENAME}$-metadata$title=My Movie", line)

	parsed, err := ParseHello(line)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHelloRejects(t *testing.T) {
	for _, line := range []string{
		"HELLO|10|/tmp|x.mkv",
		"HOLA|10|/tmp|x.mkv|ffmpeg",
		"HELLO|ten|/tmp|x.mkv|ffmpeg",
		"HELLO|-1|/tmp|x.mkv|ffmpeg",
		"HELLO|10||x.mkv|ffmpeg",
	} {
		_, err := ParseHello(line)
		assert.ErrorIs(t, err, ErrProtocol, line)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("DONE|0|1234")
	require.NoError(t, err)
	assert.Equal(t, Status{Done: true, Size: 1234}, s)
	assert.Equal(t, "DONE|0|1234", s.String())

	s, err = ParseStatus("ERR|1")
	require.NoError(t, err)
	assert.Equal(t, Status{ExitCode: 1}, s)

	for _, line := range []string{"DONE|0", "ERR|x", "DONE|0|-5", "OK"} {
		_, err := ParseStatus(line)
		assert.ErrorIs(t, err, ErrProtocol, line)
	}
}

type recordingReader struct {
	r     io.Reader
	sizes []int
}

func (r *recordingReader) Read(p []byte) (int, error) {
	r.sizes = append(r.sizes, len(p))
	return r.r.Read(p)
}

func TestReceiveChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 10000)
	src := &recordingReader{r: bytes.NewReader(payload)}
	var dst bytes.Buffer

	n, err := receive(&dst, src, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), n)
	assert.Equal(t, payload, dst.Bytes())
	assert.Equal(t, []int{4096, 4096, 1808}, src.sizes)
}

func TestReceiveShort(t *testing.T) {
	_, err := receive(io.Discard, strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestPing(t *testing.T) {
	_, port := startServer(t, &fakeEncoder{}, 1<<40)
	client := NewClient("127.0.0.1", port, nil, logging.Discard())

	require.NoError(t, client.Ping(context.Background()))
}

func TestPingRequiresExactPong(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.ReadFull(conn, make([]byte, 4))
		io.WriteString(conn, "pong")
	}()

	client := NewClient("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, nil, logging.Discard())
	err = client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHostDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewClient("127.0.0.1", port, nil, logging.Discard())
	assert.Error(t, client.Ping(context.Background()))
}

func TestRunSuccess(t *testing.T) {
	enc := &fakeEncoder{
		lines:  []string{"Input #0, matroska", statusLine, statusLine, "video:3481kB audio:512kB", "trailing summary"},
		output: "encoded output",
	}
	_, port := startServer(t, enc, 1<<40)
	client := NewClient("127.0.0.1", port, nil, logging.Discard())

	tmp := t.TempDir()
	out := filepath.Join(t.TempDir(), "movie.mkv.tmp")
	var samples []monitor.Sample
	result, err := client.Run(context.Background(), Job{
		Source:   writeSource(t, "source bytes"),
		TempDir:  tmp,
		Args:     []string{"ffmpeg", "-y", "-i", Placeholder, "-c:v", "hevc"},
		Output:   out,
		Interval: -1,
		Callback: func(s monitor.Sample) bool {
			samples = append(samples, s)
			return false
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, int64(12), result.BytesSent)
	assert.Equal(t, int64(14), result.BytesReceived)
	assert.Len(t, samples, 2)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "encoded output", string(data))

	proc, argv, input := enc.started()
	assert.False(t, proc.wasKilled())
	assert.Equal(t, "source bytes", string(input))
	received := filepath.Join(tmp, "movie.mkv")
	assert.Equal(t, []string{"ffmpeg", "-y", "-i", received, "-c:v", "hevc", received + ".tmp"}, argv)

	assert.Eventually(t, func() bool {
		_, err1 := os.Stat(received)
		_, err2 := os.Stat(received + ".tmp")
		return os.IsNotExist(err1) && os.IsNotExist(err2)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunEncoderFailure(t *testing.T) {
	enc := &fakeEncoder{lines: []string{"Unknown encoder 'x'"}, code: 1}
	_, port := startServer(t, enc, 1<<40)
	client := NewClient("127.0.0.1", port, nil, logging.Discard())

	out := filepath.Join(t.TempDir(), "out.mkv")
	result, err := client.Run(context.Background(), Job{
		Source:  writeSource(t, "source"),
		TempDir: t.TempDir(),
		Args:    []string{"ffmpeg", "-i", Placeholder},
		Output:  out,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.False(t, result.Succeeded())
	assert.NoFileExists(t, out)
}

func TestRunVeto(t *testing.T) {
	enc := &fakeEncoder{lines: []string{statusLine, statusLine, statusLine}, output: "x"}
	_, port := startServer(t, enc, 1<<40)
	client := NewClient("127.0.0.1", port, nil, logging.Discard())

	calls := 0
	result, err := client.Run(context.Background(), Job{
		Source:   writeSource(t, "source"),
		TempDir:  t.TempDir(),
		Args:     []string{"ffmpeg", "-i", Placeholder},
		Output:   filepath.Join(t.TempDir(), "out.mkv"),
		Interval: -1,
		Callback: func(monitor.Sample) bool {
			calls++
			return calls == 2
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Vetoed)
	assert.Equal(t, 2, calls)
	assert.Eventually(t, func() bool {
		proc, _, _ := enc.started()
		return proc != nil && proc.wasKilled()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunRejectsAlteredHelloEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		got <- strings.TrimSuffix(line, "\n")
		io.WriteString(conn, strings.Replace(line, Placeholder, "{FILENAMEX", 1))
	}()

	client := NewClient("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, nil, logging.Discard())
	_, err = client.Run(context.Background(), Job{
		Source:  writeSource(t, "source"),
		TempDir: "/tmp",
		Args:    []string{"ffmpeg", "-i", Placeholder},
		Output:  filepath.Join(t.TempDir(), "out.mkv"),
	})
	assert.ErrorIs(t, err, ErrProtocol)
	assert.NotErrorIs(t, err, ErrRefused)
	assert.Contains(t, err.Error(), "hello echo mismatch")
	assert.True(t, strings.HasPrefix(<-got, "HELLO|6|/tmp|"))
}

func TestRunRefusedWhenDiskFull(t *testing.T) {
	_, port := startServer(t, &fakeEncoder{}, 10)
	client := NewClient("127.0.0.1", port, nil, logging.Discard())

	_, err := client.Run(context.Background(), Job{
		Source:  writeSource(t, "more than five bytes"),
		TempDir: t.TempDir(),
		Args:    []string{"ffmpeg", "-i", Placeholder},
		Output:  filepath.Join(t.TempDir(), "out.mkv"),
	})
	assert.ErrorIs(t, err, ErrRefused)
	assert.NoError(t, client.Ping(context.Background()))
}

// rawSession performs the handshake by hand and returns the connection
// positioned at the first forwarded line.
func rawSession(t *testing.T, port int, tmp string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	hello := Hello{Size: 4, TempDir: tmp, Filename: "in.mkv", Args: []string{"ffmpeg", "-i", Placeholder}}.String()
	_, err = io.WriteString(conn, hello+"\n")
	require.NoError(t, err)
	br := bufio.NewReader(conn)
	echo, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, hello+"\n", echo)
	_, err = io.WriteString(conn, "data")
	require.NoError(t, err)
	return conn, br
}

func TestOneLinePerToken(t *testing.T) {
	enc := &fakeEncoder{lines: []string{"line one", "line two", "video:1kB", "not forwarded"}, output: "out!"}
	_, port := startServer(t, enc, 1<<40)
	conn, br := rawSession(t, port, t.TempDir())

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "line one\n", line)
	assert.Equal(t, 0, br.Buffered(), "second line sent before the first was answered")

	io.WriteString(conn, TokenAck)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "line two\n", line)

	io.WriteString(conn, TokenAck)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "DONE|0|4\n", line)

	io.WriteString(conn, TokenAck)
	payload := make([]byte, 4)
	_, err = io.ReadFull(br, payload)
	require.NoError(t, err)
	assert.Equal(t, "out!", string(payload))
}

func TestStopEndsStreaming(t *testing.T) {
	enc := &fakeEncoder{lines: []string{"line one", "line two", "line three"}, output: "x"}
	_, port := startServer(t, enc, 1<<40)
	conn, br := rawSession(t, port, t.TempDir())

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "line one\n", line)
	io.WriteString(conn, TokenStop)

	rest, _ := io.ReadAll(br)
	assert.Empty(t, rest)
	proc, _, _ := enc.started()
	assert.True(t, proc.wasKilled())
}

func TestUnexpectedTokenAborts(t *testing.T) {
	enc := &fakeEncoder{lines: []string{"line one", "line two"}, output: "x"}
	_, port := startServer(t, enc, 1<<40)
	conn, br := rawSession(t, port, t.TempDir())

	_, err := br.ReadString('\n')
	require.NoError(t, err)
	io.WriteString(conn, "NOPE")

	rest, _ := io.ReadAll(br)
	assert.Empty(t, rest)
	proc, _, _ := enc.started()
	assert.True(t, proc.wasKilled())

	client := NewClient("127.0.0.1", port, nil, logging.Discard())
	assert.NoError(t, client.Ping(context.Background()))
}

func TestFormatRAM(t *testing.T) {
	assert.Equal(t, "16.0 GB", FormatRAM(16*1024*1024*1024))
	assert.Equal(t, "0.5 GB", FormatRAM(512*1024*1024))
}

func TestDetectInventory(t *testing.T) {
	inv := DetectInventory()
	assert.Greater(t, inv.CPUThreads, 0)
	assert.NotEmpty(t, inv.OS)
	assert.Contains(t, inv.String(), inv.Arch)
}
