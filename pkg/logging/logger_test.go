package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown", Fields{"host": "nas"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at WARN")
	}
	if !strings.Contains(out, "WARN: shown map[host:nas]") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestJSONFormatWithField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, true)
	l.SetOutput(&buf)

	l.WithField("worker", "nas-1").Debug("started", Fields{"queue": "_default"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry.Level != "DEBUG" || entry.Message != "started" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["worker"] != "nas-1" || entry.Fields["queue"] != "_default" {
		t.Errorf("fields not merged: %v", entry.Fields)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, false)
	l.SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.WithField("n", n).Info("line")
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[") || !strings.Contains(line, "INFO: line") {
			t.Errorf("mangled line: %q", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DEBUG, "WARNING": WARN, "error": ERROR, "bogus": INFO}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDerivedLoggerFollowsSetOutput(t *testing.T) {
	l := NewLogger(INFO, false)
	child := l.WithField("host", "nas")

	var buf bytes.Buffer
	l.SetOutput(&buf)
	child.Info("after")

	if !strings.Contains(buf.String(), "INFO: after map[host:nas]") {
		t.Errorf("derived logger kept the old writer: %q", buf.String())
	}
}

func TestRotationReachesDerivedLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(INFO, false)
	l.sink.file = f
	l.sink.out = f
	defer l.Close()

	child := l.WithField("host", "nas")
	child.Info(strings.Repeat("x", 200))
	if err := l.RotateIfNeeded(10); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	child.Info("after rotation")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "after rotation") {
		t.Errorf("derived logger did not write to the new file: %q", data)
	}
	if strings.Contains(string(data), "xxxx") {
		t.Error("old entries should have moved to the backup")
	}
	backups, _ := filepath.Glob(path + ".*")
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %v", backups)
	}
}

func TestRotateWithoutFileIsNoop(t *testing.T) {
	if err := NewLogger(INFO, false).RotateIfNeeded(0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
