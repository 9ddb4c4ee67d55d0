package monitor

import (
	"bytes"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between progress samples
const DefaultInterval = 30 * time.Second

// Sampler picks status lines out of encoder output at most once per
// interval. The first sample is taken no earlier than one interval after
// the sampler is created.
type Sampler struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSampler creates a sampler; an interval <= 0 samples every status line
func NewSampler(interval time.Duration) *Sampler {
	return newSampler(interval, time.Now)
}

func newSampler(interval time.Duration, now func() time.Time) *Sampler {
	if interval <= 0 {
		return &Sampler{limiter: rate.NewLimiter(rate.Inf, 1), now: now}
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.AllowN(now(), 1)
	return &Sampler{limiter: limiter, now: now}
}

// Offer returns a sample when line is a status line and the interval has
// elapsed since the previous sample.
func (s *Sampler) Offer(line string) (Sample, bool) {
	sample, ok := ParseSample(line)
	if !ok {
		return Sample{}, false
	}
	if !s.limiter.AllowN(s.now(), 1) {
		return Sample{}, false
	}
	return sample, true
}

// ScanLines is a bufio.SplitFunc that breaks on \n or \r, since ffmpeg
// rewrites its status line with carriage returns. Empty lines are dropped.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if start == len(data) {
		return start, nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}
