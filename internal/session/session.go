// Package session owns the live classification job on behalf of a UI.
//
// A Controller ties the submission gate, one poller per job and the result
// aggregator together. Submitting again supersedes the live job: its poller
// is cancelled and the aggregator reset before the new payload is sent, so
// results of two jobs never mix. Closing the controller cancels whatever is
// still running.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/aggregate"
	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/metrics"
	"github.com/fpang/seetrue/internal/poll"
	"github.com/fpang/seetrue/internal/store"
	"github.com/fpang/seetrue/internal/submit"
)

// persistTimeout bounds the history write made when a job ends.
const persistTimeout = 10 * time.Second

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("session closed")
	// ErrNoJob is returned by Wait when no job has been accepted.
	ErrNoJob = errors.New("no job in progress")
)

// Notifier receives each failure exactly once. key is empty when the
// failure happened before the service assigned a job key.
type Notifier interface {
	Notify(key string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(key string, err error)

func (f NotifierFunc) Notify(key string, err error) { f(key, err) }

// UploadState tracks the submission half of the session.
type UploadState int

const (
	UploadIdle UploadState = iota
	Uploading
	Uploaded
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case Uploading:
		return "uploading"
	case Uploaded:
		return "uploaded"
	case UploadFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Config wires optional collaborators into a Controller.
type Config struct {
	// Poll configures every poller; its OnError is replaced by the controller.
	Poll poll.Config
	// AllowFinalWithoutBatches relaxes the batch-before-final contract.
	AllowFinalWithoutBatches bool
	// Store persists a record of every job that ends. Nil disables history.
	Store store.HistoryStore
	// MetricsOut receives one EMF line per job that ends. Nil disables metrics.
	MetricsOut       io.Writer
	MetricsNamespace string
}

// Snapshot is what a UI renders.
type Snapshot struct {
	Upload      UploadState
	Source      string
	Job         *classify.Job
	PollState   poll.State
	Predictions []classify.PredictionRow
	Results     aggregate.Snapshot
	Err         error
}

type run struct {
	poller   *poll.Poller
	source   string
	finished chan struct{}
	// results is captured at teardown when the poller had already ended on
	// its own, before the aggregator is reset for the next job. Guarded by c.mu.
	results *aggregate.Snapshot
}

// Controller is safe for concurrent use.
type Controller struct {
	gate     *submit.Gate
	querier  poll.StatusQuerier
	notifier Notifier
	cfg      Config
	agg      *aggregate.Aggregator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	upload      UploadState
	source      string
	predictions []classify.PredictionRow
	lastErr     error
	run         *run
}

// New creates a controller. notifier may be nil.
func New(gate *submit.Gate, querier poll.StatusQuerier, notifier Notifier, cfg Config) *Controller {
	if notifier == nil {
		notifier = NotifierFunc(func(string, error) {})
	}
	var opts []aggregate.Option
	if cfg.AllowFinalWithoutBatches {
		opts = append(opts, aggregate.AllowFinalWithoutBatches())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gate:     gate,
		querier:  querier,
		notifier: notifier,
		cfg:      cfg,
		agg:      aggregate.New(opts...),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit supersedes the live job, if any, and submits p. An accepted job is
// polled in the background until it ends, Submit is called again or the
// controller is closed. Validation failures leave the live job untouched.
func (c *Controller) Submit(ctx context.Context, p *classify.Payload) (submit.Outcome, error) {
	if err := c.gate.Validate(p); err != nil {
		c.fail("", err)
		return submit.Outcome{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return submit.Outcome{}, ErrClosed
	}
	if c.upload == Uploading {
		c.mu.Unlock()
		err := classify.Validation("a submission is already in flight")
		c.fail("", err)
		return submit.Outcome{}, err
	}
	c.teardownLocked()
	c.upload = Uploading
	c.source = p.Name
	c.predictions = nil
	c.lastErr = nil
	c.mu.Unlock()

	outcome, err := c.gate.Submit(ctx, p)

	c.mu.Lock()
	if c.closed {
		c.upload = UploadIdle
		c.mu.Unlock()
		return submit.Outcome{}, ErrClosed
	}
	if err != nil {
		c.upload = UploadFailed
		c.lastErr = err
		c.mu.Unlock()
		c.notifier.Notify("", err)
		return submit.Outcome{}, err
	}
	c.upload = Uploaded
	switch outcome.Kind {
	case submit.Immediate:
		c.predictions = outcome.Predictions
	case submit.Accepted:
		if err := c.startLocked(outcome.JobKey, p.Name); err != nil {
			c.lastErr = err
			c.mu.Unlock()
			c.notifier.Notify(outcome.JobKey, err)
			return outcome, err
		}
	}
	c.mu.Unlock()
	return outcome, nil
}

// teardownLocked cancels the live poller and clears its results. Once
// Cancel returns the old poller can no longer touch the aggregator.
func (c *Controller) teardownLocked() {
	if c.run != nil {
		c.run.poller.Cancel()
		if state := c.run.poller.State(); state != poll.Cancelled {
			snap := c.agg.Snapshot()
			c.run.results = &snap
		}
		log.Debug().Str("jobKey", c.run.poller.Key()).Msg("Live job superseded")
		c.run = nil
	}
	c.agg.Reset()
}

func (c *Controller) startLocked(key, source string) error {
	cfg := c.cfg.Poll
	var p *poll.Poller
	cfg.OnError = func(key string, err error) {
		c.mu.Lock()
		if c.run != nil && c.run.poller == p {
			c.lastErr = err
		}
		c.mu.Unlock()
		c.notifier.Notify(key, err)
	}
	p = poll.New(key, c.querier, c.agg, cfg)

	r := &run{poller: p, source: source, finished: make(chan struct{})}
	if err := p.Start(c.ctx); err != nil {
		return err
	}
	c.run = r
	c.wg.Add(1)
	go c.finish(r)
	return nil
}

// finish waits for a poller to end, then records metrics and history.
func (c *Controller) finish(r *run) {
	defer c.wg.Done()
	defer close(r.finished)
	<-r.poller.Done()

	p := r.poller
	stats := p.Stats()
	job := p.Job()
	state := p.State()
	err := p.Err()

	// Batches are only attributable while the aggregator still belongs to p,
	// or when teardown saved them after p had already ended.
	var results *aggregate.Snapshot
	c.mu.Lock()
	switch {
	case r.results != nil:
		results = r.results
	case c.run == r:
		s := c.agg.Snapshot()
		results = &s
	}
	c.mu.Unlock()

	summary := metrics.JobSummary{
		Key:      job.Key,
		Outcome:  state.String(),
		Ticks:    stats.Ticks,
		Batches:  stats.Batches,
		Duration: stats.EndedAt.Sub(stats.StartedAt),
	}
	if results != nil && results.Final != nil {
		summary.FinalLabel = results.Final.FinalLabel.String()
	}
	if kind, ok := classify.KindOf(err); ok {
		summary.ErrorKind = kind.String()
	}

	log.Info().
		Str("jobKey", job.Key).
		Str("outcome", summary.Outcome).
		Int("ticks", summary.Ticks).
		Int("batches", summary.Batches).
		Dur("duration", summary.Duration).
		Msg("Job ended")

	c.recordMetrics(summary)
	c.persist(r, job, stats.EndedAt, summary, results, err)
}

func (c *Controller) recordMetrics(s metrics.JobSummary) {
	if c.cfg.MetricsOut == nil {
		return
	}
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	if err := metrics.RecordJob(c.cfg.MetricsOut, c.cfg.MetricsNamespace, s); err != nil {
		log.Warn().Err(err).Str("jobKey", s.Key).Msg("Failed to record job metrics")
	}
}

func (c *Controller) persist(r *run, job classify.Job, endedAt time.Time, s metrics.JobSummary, results *aggregate.Snapshot, jobErr error) {
	if c.cfg.Store == nil {
		return
	}
	rec := &store.JobRecord{
		Key:         job.Key,
		Source:      r.source,
		Status:      string(job.Status),
		Outcome:     s.Outcome,
		FinalLabel:  s.FinalLabel,
		Ticks:       s.Ticks,
		SubmittedAt: job.SubmittedAt.Unix(),
		FinishedAt:  endedAt.Unix(),
	}
	if jobErr != nil && !errors.Is(jobErr, poll.ErrCancelled) {
		rec.Error = jobErr.Error()
	}
	if results != nil {
		rec.Batches = store.BatchRecords(results.Batches)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.cfg.Store.PutJob(ctx, rec); err != nil {
		log.Warn().Err(err).Str("jobKey", job.Key).Msg("Failed to persist job history")
	}
}

// fail records err as the latest failure and notifies once.
func (c *Controller) fail(key string, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.notifier.Notify(key, err)
}

// Wait blocks until the live job has ended and its history is recorded.
// It returns the job's terminal error, nil for a completed job.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return ErrNoJob
	}
	select {
	case <-r.finished:
		return r.poller.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the aggregator view of the live job.
func (c *Controller) Results() aggregate.Snapshot {
	return c.agg.Snapshot()
}

// Snapshot captures the whole session state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Upload:      c.upload,
		Source:      c.source,
		Predictions: append([]classify.PredictionRow(nil), c.predictions...),
		Results:     c.agg.Snapshot(),
		Err:         c.lastErr,
	}
	if c.run != nil {
		job := c.run.poller.Job()
		s.Job = &job
		s.PollState = c.run.poller.State()
	}
	return s
}

// Close cancels the live job and waits for its history to be recorded.
// Further calls to Submit fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.run != nil {
		c.run.poller.Cancel()
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}
