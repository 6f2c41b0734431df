package metrics

import (
	"io"
	"time"
)

// Metric names emitted per job.
const (
	MetricPollTicks       = "PollTicks"
	MetricBatchesReceived = "BatchesReceived"
	MetricJobDuration     = "JobDurationMs"
)

// JobSummary describes one finished polling session.
type JobSummary struct {
	Key        string
	Outcome    string
	Ticks      int
	Batches    int
	Duration   time.Duration
	FinalLabel string
	ErrorKind  string
}

// RecordJob writes one EMF document for a finished job, dimensioned by outcome.
func RecordJob(out io.Writer, namespace string, s JobSummary) error {
	r := New(out, namespace).
		Dimension("Outcome", s.Outcome).
		Metric(MetricPollTicks, float64(s.Ticks), UnitCount).
		Metric(MetricBatchesReceived, float64(s.Batches), UnitCount).
		Duration(MetricJobDuration, s.Duration).
		Property("jobKey", s.Key)
	if s.FinalLabel != "" {
		r.Property("finalLabel", s.FinalLabel)
	}
	if s.ErrorKind != "" {
		r.Property("errorKind", s.ErrorKind)
	}
	return r.Flush()
}
