package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Equal(t, 1, strings.Count(line, "\n"), "EMF must be a single line")
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &doc), "output: %s", line)
	return doc
}

func TestRecorder_FlushOutput(t *testing.T) {
	var buf bytes.Buffer
	rec := New(&buf, "Seetrue")
	rec.now = func() time.Time { return time.UnixMilli(1700000000123) }
	rec.Dimension("Outcome", "completed").
		Metric("LatencyMs", 1234.5, UnitMilliseconds).
		Count("CallCount").
		Property("jobKey", "abc-123")
	require.NoError(t, rec.Flush())

	doc := decode(t, &buf)
	aws, ok := doc["_aws"].(map[string]interface{})
	require.True(t, ok, "missing _aws directive")
	assert.Equal(t, float64(1700000000123), aws["Timestamp"])

	cw := aws["CloudWatchMetrics"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Seetrue", cw["Namespace"])
	assert.Equal(t, []interface{}{[]interface{}{"Outcome"}}, cw["Dimensions"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"Name": "CallCount", "Unit": UnitCount},
		map[string]interface{}{"Name": "LatencyMs", "Unit": UnitMilliseconds},
	}, cw["Metrics"])

	assert.Equal(t, "completed", doc["Outcome"])
	assert.Equal(t, 1234.5, doc["LatencyMs"])
	assert.Equal(t, float64(1), doc["CallCount"])
	assert.Equal(t, "abc-123", doc["jobKey"])
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, "Test").Property("x", 1).Flush())
	assert.Zero(t, buf.Len(), "no metrics means no document")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestRecorder_FlushWriteError(t *testing.T) {
	err := New(failingWriter{}, "Test").Count("Errors").Flush()
	assert.ErrorContains(t, err, "closed pipe")
}

func TestRecordJob(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RecordJob(&buf, "Seetrue", JobSummary{
		Key:       "job-9",
		Outcome:   "failed",
		Ticks:     4,
		Batches:   2,
		Duration:  1500 * time.Millisecond,
		ErrorKind: "transport",
	}))

	doc := decode(t, &buf)
	assert.Equal(t, "failed", doc["Outcome"])
	assert.Equal(t, float64(4), doc[MetricPollTicks])
	assert.Equal(t, float64(2), doc[MetricBatchesReceived])
	assert.Equal(t, float64(1500), doc[MetricJobDuration])
	assert.Equal(t, "job-9", doc["jobKey"])
	assert.Equal(t, "transport", doc["errorKind"])
	assert.NotContains(t, doc, "finalLabel")
}
