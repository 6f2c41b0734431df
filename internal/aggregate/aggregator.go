// Package aggregate accumulates the batch history and final verdict of one
// classification job. It is a pure sink: the poller pushes, the UI reads.
package aggregate

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
)

// Aggregator keeps the ordered batch history of the live job.
// It is safe for concurrent use; deliveries are expected to be serialized
// by the caller and reads may happen from any goroutine.
type Aggregator struct {
	mu                sync.RWMutex
	batches           []classify.Batch
	final             *classify.FinalResult
	requireBatchFirst bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// AllowFinalWithoutBatches accepts a final result even when no batch preceded
// it. Use this only for services that do not guarantee at least one batch.
func AllowFinalWithoutBatches() Option {
	return func(a *Aggregator) { a.requireBatchFirst = false }
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{requireBatchFirst: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnBatch appends b to the history. b.SequenceIndex must equal the current
// history length; anything else is an ordering violation and is not recorded.
func (a *Aggregator) OnBatch(b classify.Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if want := len(a.batches); b.SequenceIndex != want {
		return classify.Ordering(want, b.SequenceIndex)
	}
	if a.final != nil {
		return classify.Protocol("batch received after the final result")
	}

	measures := make(map[string]float64, len(b.Measures))
	for k, v := range b.Measures {
		measures[k] = v
	}
	b.Measures = measures
	a.batches = append(a.batches, b)

	log.Debug().Int("sequenceIndex", b.SequenceIndex).Str("label", b.DominantLabel.String()).Msg("Batch accepted")
	return nil
}

// OnFinal records the job's final verdict. It may be called once per job.
func (a *Aggregator) OnFinal(r classify.FinalResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return classify.DuplicateFinal()
	}
	if a.requireBatchFirst && len(a.batches) == 0 {
		return classify.PrematureFinal()
	}
	a.final = &r

	log.Debug().Str("finalLabel", r.FinalLabel.String()).Int("batches", len(a.batches)).Msg("Final result recorded")
	return nil
}

// Reset clears the history and final result before a new job begins.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = nil
	a.final = nil
}

// CurrentLabel is the dominant label of the latest batch, or
// classify.LabelUnknown when no batch has arrived yet.
func (a *Aggregator) CurrentLabel() classify.Label {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.batches) == 0 {
		return classify.LabelUnknown
	}
	return a.batches[len(a.batches)-1].DominantLabel
}

// Batches returns a copy of the history in arrival order.
func (a *Aggregator) Batches() []classify.Batch {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyBatches(a.batches)
}

// Final returns the recorded verdict, if any.
func (a *Aggregator) Final() (classify.FinalResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.final == nil {
		return classify.FinalResult{}, false
	}
	return *a.final, true
}

// Snapshot is a consistent, immutable view of the aggregator.
type Snapshot struct {
	Batches      []classify.Batch
	CurrentLabel classify.Label
	Final        *classify.FinalResult
}

// Snapshot captures history, current label and final result atomically.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Batches:      copyBatches(a.batches),
		CurrentLabel: classify.LabelUnknown,
	}
	if n := len(a.batches); n > 0 {
		s.CurrentLabel = a.batches[n-1].DominantLabel
	}
	if a.final != nil {
		f := *a.final
		s.Final = &f
	}
	return s
}

func copyBatches(in []classify.Batch) []classify.Batch {
	out := make([]classify.Batch, len(in))
	for i, b := range in {
		m := make(map[string]float64, len(b.Measures))
		for k, v := range b.Measures {
			m[k] = v
		}
		b.Measures = m
		out[i] = b
	}
	return out
}
