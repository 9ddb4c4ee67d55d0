package cluster

import (
	"bytes"
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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
)

const statusLine = "frame=  307 fps= 86 q=-0.0 size=    3481kB time=00:00:13.03 bitrate=2187.9kbits/s speed=3.67x"

type testDirective struct {
	name           string
	ext            string
	queue          string
	threshold      int
	thresholdCheck int
}

func (d *testDirective) Name() string           { return d.name }
func (d *testDirective) Extension() string      { return d.ext }
func (d *testDirective) QueueName() string      { return d.queue }
func (d *testDirective) Threshold() int         { return d.threshold }
func (d *testDirective) ThresholdCheck() int    { return d.thresholdCheck }
func (d *testDirective) InputOptions() []string { return []string{"-hwaccel", "auto"} }
func (d *testDirective) OutputOptions(mixins []string) []string {
	return append([]string{"-c:v", "hevc"}, mixins...)
}
func (d *testDirective) StreamMap(video int, audio, subtitle []models.Stream) []string {
	return []string{"-map", "0:" + strconv.Itoa(video)}
}

func hevc() *testDirective {
	return &testDirective{name: "hevc", ext: ".mp4", thresholdCheck: 100}
}

type directiveMap map[string]models.Directive

func (m directiveMap) Get(name string) (models.Directive, error) {
	if d, ok := m[name]; ok {
		return d, nil
	}
	return nil, errors.New("unknown directive " + name)
}

type fakeProber struct {
	mu    sync.Mutex
	calls int
	media models.MediaInfo
	fail  map[string]bool
}

func (p *fakeProber) Probe(_ context.Context, path string) (*models.MediaInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail[filepath.Base(path)] {
		return nil, errors.New("not a media file")
	}
	m := p.media
	m.Path = path
	return &m, nil
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

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

// fakeEncoder writes outSize bytes to its last argument when it succeeds
type fakeEncoder struct {
	lines   []string
	code    int
	outSize int
	panicOn string

	mu       sync.Mutex
	launched [][]string
	procs    []*fakeProcess
}

func (e *fakeEncoder) Describe(argv []string) string { return strings.Join(argv, " ") }

func (e *fakeEncoder) Launch(_ context.Context, argv []string) (monitor.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launched = append(e.launched, argv)
	for i, a := range argv {
		if a == "-i" && i+1 < len(argv) && e.panicOn != "" && filepath.Base(argv[i+1]) == e.panicOn {
			panic("encoder exploded")
		}
	}
	if e.code == 0 {
		if err := os.WriteFile(argv[len(argv)-1], bytes.Repeat([]byte("o"), e.outSize), 0o644); err != nil {
			return nil, err
		}
	}
	text := ""
	if len(e.lines) > 0 {
		text = strings.Join(e.lines, "\n") + "\n"
	}
	p := &fakeProcess{out: strings.NewReader(text), code: e.code}
	e.procs = append(e.procs, p)
	return p, nil
}

func (e *fakeEncoder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.launched)
}

// droppedHost passes its check and then loses the connection on every job
type droppedHost struct {
	calls int
}

func (e *droppedHost) check(context.Context) error { return nil }

func (e *droppedHost) prepare(*jobRun) (*command, error) {
	return &command{argv: []string{"ffmpeg"}, display: "ffmpeg"}, nil
}

func (e *droppedHost) execute(context.Context, *jobRun, *command) (*execution, error) {
	e.calls++
	return nil, fmt.Errorf("%w: connection reset by peer", ErrHostUnavailable)
}

func (e *droppedHost) close() {}

func localHost(name string, queues map[string]int) *models.HostProfile {
	return &models.HostProfile{
		Name:   name,
		Kind:   models.HostLocal,
		Status: "enabled",
		Queues: queues,
	}
}

func testEnv(t *testing.T, opts RunOptions) (Env, *bytes.Buffer) {
	t.Helper()
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = -1
	}
	var out bytes.Buffer
	return Env{Options: opts, Console: NewConsole(&syncWriter{w: &out}), Logger: logging.Discard()}, &out
}

// syncWriter lets the test read what the console wrote
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func writeMedia(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("s"), size), 0o644))
	return path
}

// useLauncher swaps the launcher of every local worker
func useLauncher(c *Cluster, enc *fakeEncoder) {
	for _, w := range c.Workers() {
		if le, ok := w.exec.(*localExecutor); ok {
			le.launcher = enc
		}
	}
}

func netListen() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func portOf(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}
