package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
)

func result(path string, outcome models.Outcome, d time.Duration, end time.Time) *Result {
	return &Result{Path: path, Host: "h1", Directive: "hevc", Outcome: outcome, Duration: d, EndTime: end}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0m 0s", FormatElapsed(0))
	assert.Equal(t, "1m 30s", FormatElapsed(90*time.Second))
	assert.Equal(t, "125m 4s", FormatElapsed(2*time.Hour+5*time.Minute+4*time.Second))
}

func TestCompletion(t *testing.T) {
	c, ok := result("/m/a.mkv", models.OutcomeVetoed, time.Minute, time.Now()).Completion()
	require.True(t, ok)
	assert.Equal(t, models.Completion{Path: "/m/a.mkv", Elapsed: time.Minute}, c)

	_, ok = result("/m/b.mkv", models.OutcomeFailed, time.Minute, time.Now()).Completion()
	assert.False(t, ok)
}

func TestLogSummaryCarriesFinalState(t *testing.T) {
	r := result("/m/a.mkv", models.OutcomeVetoed, time.Minute, time.Now())
	r.States = []models.JobState{models.JobStateQueued, models.JobStatePreparing, models.JobStateEncoding, models.JobStateVetoed}
	assert.Equal(t, models.JobStateVetoed, r.FinalState())
	assert.Equal(t, models.JobState(""), (&Result{}).FinalState())

	var buf bytes.Buffer
	logger := logging.NewLogger(logging.DEBUG, true)
	logger.SetOutput(&buf)
	r.LogSummary(logger)

	var entry logging.LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "vetoed", entry.Fields["state"])
}

func TestSummary(t *testing.T) {
	now := time.Now()
	s := NewSummary([]*Result{
		result("/m/b.mkv", models.OutcomeFailed, time.Second, now.Add(time.Second)),
		result("/m/a.mkv", models.OutcomeSuccess, 61*time.Second, now),
		result("/m/c.mkv", models.OutcomeThreshold, time.Second, now.Add(2*time.Second)),
	})
	assert.Equal(t, "/m/a.mkv", s.Results[0].Path)
	assert.Len(t, s.Completions(), 2)

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "a.mkv")
	assert.Contains(t, out, "1m 1s")
	assert.Contains(t, out, "3 jobs: 1 encoded, 0 vetoed, 1 below threshold, 1 failed, 0 skipped (1m 3s)")
}

func TestFailureLogRing(t *testing.T) {
	log := NewFailureLog(2)
	log.Record(result("/m/ok.mkv", models.OutcomeSuccess, 0, time.Now()))
	log.Record(result("/m/dry.mkv", models.OutcomeSkipped, 0, time.Now()))
	log.Record(result("/m/1.mkv", models.OutcomeFailed, 0, time.Now()))
	log.Record(result("/m/2.mkv", models.OutcomeError, 0, time.Now()))
	log.Record(result("/m/3.mkv", models.OutcomeFailed, 0, time.Now()))

	recent := log.Recent(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "/m/2.mkv", recent[0].Path)
	assert.Equal(t, "/m/3.mkv", recent[1].Path)
	assert.Equal(t, "failed", recent[1].Reason)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []*Result{result("/m/a.mkv", models.OutcomeSuccess, time.Second, time.Now())}))

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "success", decoded[0]["outcome"])
}
