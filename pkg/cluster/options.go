package cluster

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mlsmithjr/transcoder/internal/report"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/metrics"
	"github.com/mlsmithjr/transcoder/pkg/monitor"
	"github.com/mlsmithjr/transcoder/pkg/tracing"
)

// RunOptions are the switches of one dispatch run
type RunOptions struct {
	DryRun     bool
	KeepSource bool
	Verbose    bool
	// Automap adds explicit stream mapping for multi-stream sources
	Automap         bool
	MonitorInterval time.Duration
	// TempDir holds transaction logs
	TempDir string
	// FFmpegPath is used by hosts that do not name their own encoder
	FFmpegPath   string
	IdentityFile string
	KnownHosts   string
	// InsecureHostKeys allows ssh hosts when known_hosts is missing
	InsecureHostKeys bool
}

func (o RunOptions) ffmpeg(hostPath string) string {
	switch {
	case hostPath != "":
		return hostPath
	case o.FFmpegPath != "":
		return o.FFmpegPath
	default:
		return "ffmpeg"
	}
}

func (o RunOptions) interval() time.Duration {
	if o.MonitorInterval == 0 {
		return monitor.DefaultInterval
	}
	return o.MonitorInterval
}

// Env is what every worker of a run shares
type Env struct {
	Options  RunOptions
	Console  *Console
	Status   chan<- StatusEvent
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Failures *report.FailureLog
	Logger   *logging.Logger
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Tracer == nil {
		out.Tracer = tracing.Noop()
	}
	if out.Failures == nil {
		out.Failures = report.NewFailureLog(50)
	}
	if out.Logger == nil {
		out.Logger = logging.Discard()
	}
	return &out
}

// post delivers a status event without ever blocking the worker
func (e *Env) post(ev StatusEvent) {
	if e.Status == nil {
		return
	}
	select {
	case e.Status <- ev:
	default:
		e.Logger.Debug("status channel full, dropping event")
	}
}
