// Package classify holds the data model shared by the submission gate, the
// job poller and the result aggregator: the closed label set, batches, final
// results, synchronous prediction rows, the service wire format and the
// error taxonomy.
package classify

import (
	"fmt"
	"time"
)

// JobStatus is the service-reported state of an asynchronous job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// ParseStatus validates a raw status string from the service.
func ParseStatus(raw string) (JobStatus, error) {
	switch s := JobStatus(raw); s {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed:
		return s, nil
	default:
		return "", Protocol(fmt.Sprintf("unknown job status %q", raw))
	}
}

// Terminal reports whether polling must stop once this status is observed.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is one submitted unit of asynchronous work. Key is assigned by the
// service and never changes; Status only moves on poll observations.
type Job struct {
	Key         string
	Status      JobStatus
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Batch is one incremental progress record. SequenceIndex is the arrival
// position on this side of the wire, not an index reported by the service.
type Batch struct {
	SequenceIndex int
	DominantLabel Label
	Measures      map[string]float64
}

// FinalResult is the terminal verdict of a completed job.
type FinalResult struct {
	FinalLabel Label
}

// PredictionRow is one row of a synchronous classification response.
type PredictionRow struct {
	Predictions        []float64 `json:"predictions"`
	LabelClasses       []string  `json:"label_classes"`
	DistanceToPrevious *float64  `json:"prev_euclidean_distance,omitempty"`
}

// Payload is the file-like input handed to the submission gate.
type Payload struct {
	Name string
	Data []byte
}

// Empty reports whether there is nothing to submit.
func (p *Payload) Empty() bool {
	return p == nil || len(p.Data) == 0
}
