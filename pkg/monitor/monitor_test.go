package monitor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
)

const statusLine = "frame=  307 fps= 86 q=-0.0 size=    3481kB time=00:00:13.03 bitrate=2187.9kbits/s speed=3.67x"

func TestParseSample(t *testing.T) {
	s, ok := ParseSample(statusLine)
	require.True(t, ok)
	assert.Equal(t, int64(3481*1024), s.Size)
	assert.Equal(t, 13, s.Time)
	assert.Equal(t, 3.67, s.Speed)
	assert.Equal(t, 86.0, s.FPS)

	_, ok = ParseSample("Input #0, matroska,webm, from 'x.mkv':")
	assert.False(t, ok)
}

func TestCalculateProgress(t *testing.T) {
	media := &models.MediaInfo{Runtime: 90 * 60, FileSizeMB: 2300}
	done, comp := CalculateProgress(media, Sample{Time: 50 * 60, Size: 1225360000})
	assert.Equal(t, 55, done)
	assert.Equal(t, 6, comp)

	done, comp = CalculateProgress(&models.MediaInfo{Runtime: 0, FileSizeMB: 100}, Sample{Time: 10, Size: 10})
	assert.Equal(t, 0, done)
	assert.Equal(t, 0, comp)
}

func TestMeetsThreshold(t *testing.T) {
	assert.True(t, MeetsThreshold(0, 100, 150))
	assert.True(t, MeetsThreshold(20, 1000, 800))
	assert.False(t, MeetsThreshold(20, 1000, 801))
	assert.True(t, MeetsThreshold(20, 1000, 100))
}

func TestFileMeetsThreshold(t *testing.T) {
	dir := t.TempDir()
	in := dir + "/in.mkv"
	out := dir + "/out.mkv"
	require.NoError(t, os.WriteFile(in, make([]byte, 1000), 0644))
	require.NoError(t, os.WriteFile(out, make([]byte, 900), 0644))

	ok, err := FileMeetsThreshold(20, in, out)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = FileMeetsThreshold(10, in, out)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSamplerInterval(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newSampler(30*time.Second, func() time.Time { return now })

	_, ok := s.Offer(statusLine)
	assert.False(t, ok, "first sample must wait one interval")

	now = now.Add(31 * time.Second)
	_, ok = s.Offer("not a status line")
	assert.False(t, ok)
	_, ok = s.Offer(statusLine)
	assert.True(t, ok)

	now = now.Add(5 * time.Second)
	_, ok = s.Offer(statusLine)
	assert.False(t, ok, "samples are at least one interval apart")
}

func TestScanLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("one\rtwo\r\nthree\n\nfour"))
	sc.Split(ScanLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, got)
}

type fakeProcess struct {
	out    *io.PipeReader
	killed chan struct{}
	done   chan struct{}
	code   int
}

func (p *fakeProcess) Output() io.Reader { return p.out }
func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}
func (p *fakeProcess) Kill() error {
	close(p.killed)
	p.out.Close()
	return nil
}

// fakeLauncher writes lines, then exits with code unless killed first
type fakeLauncher struct {
	lines []string
	code  int
	proc  *fakeProcess
}

func (f *fakeLauncher) Describe(argv []string) string { return strings.Join(argv, " ") }

func (f *fakeLauncher) Launch(ctx context.Context, argv []string) (Process, error) {
	pr, pw := io.Pipe()
	p := &fakeProcess{out: pr, killed: make(chan struct{}), done: make(chan struct{}), code: f.code}
	f.proc = p
	go func() {
		defer close(p.done)
		for _, l := range f.lines {
			if _, err := io.WriteString(pw, l+"\r"); err != nil {
				p.code = -1
				return
			}
		}
		pw.Close()
	}()
	return p, nil
}

func TestMonitorRunSuccessRemovesLog(t *testing.T) {
	dir := t.TempDir()
	m := New("local-1", 0, dir, logging.Discard())
	launcher := &fakeLauncher{lines: []string{"Input #0", statusLine, statusLine}}

	samples := 0
	res, err := m.Run(context.Background(), launcher, []string{"ffmpeg", "-i", "x"}, func(Sample) bool {
		samples++
		return false
	})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 2, samples)
	assert.Empty(t, res.LogPath)
	assert.Equal(t, "ffmpeg -i x", res.Command)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "transaction log should be removed after success")
}

func TestMonitorRunVeto(t *testing.T) {
	dir := t.TempDir()
	m := New("local-1", 0, dir, logging.Discard())
	lines := []string{statusLine}
	for i := 0; i < 50; i++ {
		lines = append(lines, "more output")
	}
	launcher := &fakeLauncher{lines: lines}

	res, err := m.Run(context.Background(), launcher, []string{"ffmpeg"}, func(Sample) bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Vetoed)
	assert.False(t, res.Succeeded())
	<-launcher.proc.killed

	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "size=    3481kB")
}

func TestMonitorRunFailureKeepsLog(t *testing.T) {
	dir := t.TempDir()
	m := New("local-1", 0, dir, logging.Discard())
	launcher := &fakeLauncher{lines: []string{"Error opening input"}, code: 1}

	res, err := m.Run(context.Background(), launcher, []string{"ffmpeg"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.FileExists(t, res.LogPath)
	assert.Contains(t, res.LogPath, "transcoder-local-1-")
}

func TestLocalLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	m := New("local", 0, t.TempDir(), logging.Discard())

	res, err := m.Run(context.Background(), LocalLauncher{}, []string{"sh", "-c", "echo hello; exit 3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	res, err = m.Run(context.Background(), LocalLauncher{},
		[]string{"sh", "-c", "echo '" + statusLine + "'; sleep 5"}, func(Sample) bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Vetoed)
	assert.Less(t, res.Duration, 5*time.Second)
}
