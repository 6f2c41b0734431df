// Package store persists the history of classification jobs so a finished
// job can be inspected after the session that ran it has gone.
//
// The DynamoDB layout is a single table where all records for a job share a
// partition key (JOB#{key}). The sort key META holds the job summary and
// BATCH#{index} holds one item per received batch. A TTL attribute
// (expiresAt) removes records after RecordTTL.
package store

import (
	"context"
	"time"

	"github.com/fpang/seetrue/internal/classify"
)

// RecordTTL is the time-to-live for every history record.
const RecordTTL = 7 * 24 * time.Hour

// HistoryStore is the persistence interface for finished and running jobs.
// Implementations are safe for concurrent use.
//
// GetJob returns (nil, nil) when the job does not exist.
// PutJob performs full replacement of the summary and its batches.
type HistoryStore interface {
	PutJob(ctx context.Context, rec *JobRecord) error
	GetJob(ctx context.Context, key string) (*JobRecord, error)
	DeleteJob(ctx context.Context, key string) error
}

// JobRecord is the persisted summary of one job (SK = META).
type JobRecord struct {
	Key         string        `json:"key" dynamodbav:"-"`
	Source      string        `json:"source,omitempty" dynamodbav:"source,omitempty"`
	Status      string        `json:"status" dynamodbav:"status"`
	Outcome     string        `json:"outcome,omitempty" dynamodbav:"outcome,omitempty"`
	FinalLabel  string        `json:"finalLabel,omitempty" dynamodbav:"finalLabel,omitempty"`
	Error       string        `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Ticks       int           `json:"ticks" dynamodbav:"ticks"`
	SubmittedAt int64         `json:"submittedAt" dynamodbav:"submittedAt"`
	FinishedAt  int64         `json:"finishedAt,omitempty" dynamodbav:"finishedAt,omitempty"`
	Batches     []BatchRecord `json:"batches,omitempty" dynamodbav:"-"`
}

// BatchRecord is one received batch (SK = BATCH#{index}).
type BatchRecord struct {
	Index    int                `json:"index" dynamodbav:"index"`
	Label    string             `json:"label" dynamodbav:"label"`
	Measures map[string]float64 `json:"measures,omitempty" dynamodbav:"measures,omitempty"`
}

// BatchRecords converts a batch history into its persisted form.
func BatchRecords(batches []classify.Batch) []BatchRecord {
	out := make([]BatchRecord, 0, len(batches))
	for _, b := range batches {
		out = append(out, BatchRecord{
			Index:    b.SequenceIndex,
			Label:    b.DominantLabel.String(),
			Measures: b.Measures,
		})
	}
	return out
}
