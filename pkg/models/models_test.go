package models

import (
	"strings"
	"testing"
)

type stubDirective struct {
	name           string
	queue          string
	threshold      int
	thresholdCheck int
}

func (d stubDirective) Name() string                    { return d.name }
func (d stubDirective) Extension() string               { return ".mkv" }
func (d stubDirective) QueueName() string               { return d.queue }
func (d stubDirective) Threshold() int                  { return d.threshold }
func (d stubDirective) ThresholdCheck() int             { return d.thresholdCheck }
func (d stubDirective) InputOptions() []string          { return nil }
func (d stubDirective) OutputOptions([]string) []string { return nil }
func (d stubDirective) StreamMap(int, []Stream, []Stream) []string {
	return nil
}

func TestShouldVeto(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		check     int
		done      int
		comp      int
		want      bool
	}{
		{"below check point", 20, 50, 40, 5, false},
		{"at check point, short of threshold", 20, 50, 50, 5, true},
		{"past check point, threshold met", 20, 50, 70, 25, false},
		{"check disabled", 20, 100, 100, 0, false},
		{"threshold zero, output shrinking", 0, 10, 90, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewEncodeJob("/tmp/x.mp4", &MediaInfo{}, stubDirective{threshold: tt.threshold, thresholdCheck: tt.check}, nil)
			if got := job.ShouldVeto(tt.done, tt.comp); got != tt.want {
				t.Errorf("ShouldVeto(%d, %d) = %v, want %v", tt.done, tt.comp, got, tt.want)
			}
		})
	}
}

func TestQueueFor(t *testing.T) {
	if got := QueueFor(stubDirective{}); got != DefaultQueue {
		t.Errorf("expected default queue, got %q", got)
	}
	if got := QueueFor(stubDirective{queue: "gpu"}); got != "gpu" {
		t.Errorf("expected gpu, got %q", got)
	}
}

func TestHostValidate(t *testing.T) {
	tests := []struct {
		name    string
		host    HostProfile
		wantErr []string
	}{
		{"local ok", HostProfile{Name: "a", Kind: HostLocal, Status: "enabled"}, nil},
		{"missing status", HostProfile{Name: "a", Kind: HostLocal}, []string{`"status"`}},
		{"mounted missing everything", HostProfile{Name: "m", Kind: HostMounted, Status: "enabled"},
			[]string{`"ip"`, `"user"`, `"os"`}},
		{"bad os", HostProfile{Name: "m", Kind: HostMounted, Status: "enabled", Address: "10.0.0.2", User: "me", OS: "plan9"},
			[]string{"unsupported"}},
		{"streaming needs working dir", HostProfile{Name: "s", Kind: HostStreaming, Status: "enabled", Address: "10.0.0.2", User: "me", OS: OSLinux},
			[]string{`"working_dir"`}},
		{"agent needs ip", HostProfile{Name: "ag", Kind: HostAgent, Status: "enabled"}, []string{`"ip"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.host.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %s", err, want)
				}
			}
		})
	}
}

func TestSubstitutePaths(t *testing.T) {
	h := HostProfile{Substitutions: []PathSubstitution{
		{Src: "/volume2/", Dest: "/media/"},
		{Src: "/volume", Dest: "/never/"},
	}}
	in, out := h.SubstitutePaths("/volume2/test.in", "/volume2/test.mkv.tmp")
	if in != "/media/test.in" || out != "/media/test.mkv.tmp" {
		t.Errorf("got %s, %s", in, out)
	}

	in, _ = h.SubstitutePaths("/other/test.in", "/other/test.out")
	if in != "/other/test.in" {
		t.Errorf("unmatched path changed: %s", in)
	}
}

func TestQueueSlotsDefault(t *testing.T) {
	h := HostProfile{}
	slots := h.QueueSlots()
	if len(slots) != 1 || slots[DefaultQueue] != 1 {
		t.Errorf("expected one default slot, got %v", slots)
	}
	if !h.Enabled() {
		t.Error("host without status should count as enabled")
	}
}

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker()
	for _, s := range []JobState{JobStatePreparing, JobStateEncoding, JobStateFinishing, JobStateDone} {
		if err := tr.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if !tr.State().IsTerminal() {
		t.Error("done should be terminal")
	}
	if err := tr.Transition(JobStateEncoding); err == nil {
		t.Error("expected error leaving terminal state")
	}
	if got := len(tr.History()); got != 5 {
		t.Errorf("expected 5 history entries, got %d", got)
	}
}

func TestCanTransition(t *testing.T) {
	if CanTransition(JobStateQueued, JobStateDone) {
		t.Error("queued -> done should be rejected")
	}
	if !CanTransition(JobStatePreparing, JobStateDone) {
		t.Error("preparing -> done (dry run) should be allowed")
	}
}
