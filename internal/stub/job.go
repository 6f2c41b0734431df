package stub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/jobs"
)

// job is one asynchronous classification run.
type job struct {
	mu        sync.Mutex
	key       string
	source    string
	status    classify.JobStatus
	batches   []classify.WireBatch
	final     string
	errMsg    string
	rows      []classify.PredictionRow
	failAfter int // fail once this many batches were emitted; negative disables
}

// view returns the cumulative status document for the job.
func (j *job) view() classify.StatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	resp := classify.StatusResponse{
		Status:  string(j.status),
		Batches: make([]classify.WireBatch, len(j.batches)),
		Error:   j.errMsg,
	}
	copy(resp.Batches, j.batches)
	if j.final != "" {
		resp.FinalResult = &classify.WireFinal{FinalActivity: j.final}
	}
	return resp
}

type registry struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func (r *registry) add(source string, rows []classify.PredictionRow, failAfter int) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := &job{
		key:       jobs.GenerateID(jobs.KeyPrefix),
		source:    source,
		status:    classify.StatusPending,
		rows:      rows,
		failAfter: failAfter,
	}
	r.jobs[j.key] = j
	return j
}

func (r *registry) get(key string) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[key]
}

// runJob emits one batch per delay, then the final verdict. The final label
// is the label that dominated the most batches, ties going to label order.
func runJob(ctx context.Context, j *job, batchSize int, delay time.Duration, labels classify.LabelSet) {
	log.Info().Str("jobKey", j.key).Str("file", j.source).Int("rows", len(j.rows)).Msg("Job started")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	wins := make(map[classify.Label]int)

	for start := 0; start < len(j.rows); start += batchSize {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		end := min(start+batchSize, len(j.rows))
		means := batchMeans(j.rows[start:end])
		label, err := labels.Dominant(means)
		if err != nil {
			j.fail(err.Error())
			return
		}
		wins[label]++

		j.mu.Lock()
		if j.failAfter >= 0 && len(j.batches) >= j.failAfter {
			j.mu.Unlock()
			j.fail("model backend crashed")
			return
		}
		j.status = classify.StatusProcessing
		j.batches = append(j.batches, classify.WireBatch{HighestClass: label.String(), Means: means})
		n := len(j.batches)
		j.mu.Unlock()

		log.Debug().Str("jobKey", j.key).Int("batch", n).Str("label", label.String()).Msg("Batch emitted")
		timer.Reset(delay)
	}

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	final := labels.Labels()[0]
	for _, l := range labels.Labels() {
		if wins[l] > wins[final] {
			final = l
		}
	}

	j.mu.Lock()
	j.status = classify.StatusComplete
	j.final = final.String()
	batches := len(j.batches)
	j.mu.Unlock()

	log.Info().Str("jobKey", j.key).Str("finalLabel", final.String()).Int("batches", batches).Msg("Job complete")
}

func (j *job) fail(msg string) {
	j.mu.Lock()
	j.status = classify.StatusFailed
	j.errMsg = msg
	j.mu.Unlock()
	log.Warn().Str("jobKey", j.key).Str("error", msg).Msg("Job failed")
}
