// Package poll drives the lifecycle of one asynchronous classification job.
//
// A Poller owns the single ticker for one job key. Each tick issues a status
// query, reconciles the cumulative batch history against what was already
// delivered, forwards new batches oldest first and, once the service reports
// completion, forwards the final result.
//
// State machine:
//
//	Idle -> Polling -> Completed | Failed | Cancelled
//
// Terminal states are absorbing. A new job needs a new Poller.
//
// Every polling session carries an epoch token drawn from a process-wide
// counter. A status response is only applied while the poller is still
// Polling under the epoch captured when the query was issued; anything else
// is discarded, so a query that resolves after Cancel never reaches the sink.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
)

// DefaultInterval is the period between status queries.
const DefaultInterval = 10 * time.Second

// ErrCancelled is returned by Wait and Err for a cancelled poller.
var ErrCancelled = errors.New("polling cancelled")

// State is a poller lifecycle state.
type State int

const (
	Idle State = iota
	Polling
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// StatusQuerier fetches the state of a job. *service.Client satisfies it.
type StatusQuerier interface {
	Status(ctx context.Context, key string) (*classify.StatusResponse, error)
}

// Sink receives deliveries in order. Calls are never concurrent and happen
// while the poller holds its lock, so a Sink must not call back into the poller.
type Sink interface {
	OnBatch(b classify.Batch) error
	OnFinal(r classify.FinalResult) error
}

// Config tunes a Poller. Zero values fall back to defaults.
type Config struct {
	// Interval between status queries. Defaults to DefaultInterval.
	Interval time.Duration
	// MaxDuration bounds the whole polling session; zero means unbounded.
	MaxDuration time.Duration
	// Labels is the agreed label set. Defaults to classify.DefaultLabels.
	Labels classify.LabelSet
	// OnError is called exactly once when the poller enters Failed.
	OnError func(key string, err error)
}

// Stats summarizes a polling session.
type Stats struct {
	Ticks     int
	Batches   int
	StartedAt time.Time
	EndedAt   time.Time
}

var epochs atomic.Uint64

// Poller polls one job until it reaches a terminal state.
type Poller struct {
	key    string
	client StatusQuerier
	sink   Sink
	cfg    Config

	mu     sync.Mutex
	state  State
	epoch  uint64
	job    classify.Job
	seen   int
	stats  Stats
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle poller for key.
func New(key string, client StatusQuerier, sink Sink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Labels.Len() == 0 {
		cfg.Labels = classify.DefaultLabels
	}
	now := time.Now()
	return &Poller{
		key:    key,
		client: client,
		sink:   sink,
		cfg:    cfg,
		job:    classify.Job{Key: key, Status: classify.StatusPending, SubmittedAt: now, UpdatedAt: now},
		done:   make(chan struct{}),
	}
}

// Key returns the job key this poller is bound to.
func (p *Poller) Key() string { return p.key }

// Start moves the poller from Idle to Polling and starts the ticker.
// Cancelling ctx has the same effect as calling Cancel.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Idle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("poller for job %s cannot start from state %s", p.key, state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.epoch = epochs.Add(1)
	p.state = Polling
	p.stats.StartedAt = time.Now()
	epoch := p.epoch
	p.mu.Unlock()

	log.Info().
		Str("jobKey", p.key).
		Uint64("epoch", epoch).
		Dur("interval", p.cfg.Interval).
		Dur("maxDuration", p.cfg.MaxDuration).
		Msg("Polling started")

	go p.run(runCtx, epoch)
	return nil
}

// Cancel stops polling. Once Cancel returns no further delivery reaches the
// sink, even if a status query is still in flight. It is a no-op in a
// terminal state.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *Poller) cancelLocked() {
	switch p.state {
	case Idle:
		p.state = Cancelled
		close(p.done)
	case Polling:
		p.state = Cancelled
		p.stats.EndedAt = time.Now()
		p.cancel()
		log.Info().Str("jobKey", p.key).Uint64("epoch", p.epoch).Int("batches", p.seen).Msg("Polling cancelled")
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Epoch returns the token of the polling session, or 0 before Start.
func (p *Poller) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Job returns the job as last observed.
func (p *Poller) Job() classify.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

// Stats returns tick and batch counters for the session.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Batches = p.seen
	return s
}

// Err is nil while polling or after completion, ErrCancelled after
// cancellation, and the failure cause otherwise.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errLocked()
}

func (p *Poller) errLocked() error {
	switch p.state {
	case Failed:
		return p.err
	case Cancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Done is closed once the poller is terminal and its goroutine has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until the poller is terminal or ctx ends.
func (p *Poller) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context, epoch uint64) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.cfg.MaxDuration > 0 {
		timer := time.NewTimer(p.cfg.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			p.Cancel()
			return
		case <-deadline:
			p.failIfLive(epoch, classify.Timeout(p.key, p.cfg.MaxDuration))
			return
		case <-ticker.C:
			if !p.tick(ctx, epoch) {
				return
			}
		}
	}
}

// tick runs one status query and applies it. It reports whether polling continues.
func (p *Poller) tick(ctx context.Context, epoch uint64) bool {
	p.mu.Lock()
	if !p.liveLocked(epoch) {
		p.mu.Unlock()
		return false
	}
	p.stats.Ticks++
	tickNo := p.stats.Ticks
	p.mu.Unlock()

	resp, err := p.client.Status(ctx, p.key)

	p.mu.Lock()
	if !p.liveLocked(epoch) {
		p.mu.Unlock()
		log.Debug().Str("jobKey", p.key).Uint64("epoch", epoch).Int("tick", tickNo).Msg("Discarding status response from a stale session")
		return false
	}
	if err != nil && ctx.Err() != nil {
		p.cancelLocked()
		p.mu.Unlock()
		return false
	}
	if err != nil {
		failure := p.failLocked(classify.Transport("status", err))
		p.mu.Unlock()
		p.notify(failure)
		return false
	}

	terminal, err := p.applyLocked(resp)
	if err != nil {
		failure := p.failLocked(err)
		p.mu.Unlock()
		p.notify(failure)
		return false
	}
	log.Debug().
		Str("jobKey", p.key).
		Int("tick", tickNo).
		Str("status", string(p.job.Status)).
		Int("batches", p.seen).
		Msg("Status polled")
	p.mu.Unlock()
	return !terminal
}

// applyLocked reconciles one status response with what was already delivered.
// New batches go to the sink before the terminal check.
func (p *Poller) applyLocked(resp *classify.StatusResponse) (bool, error) {
	if resp == nil {
		return false, classify.Protocol("empty status response")
	}
	status, err := classify.ParseStatus(resp.Status)
	if err != nil {
		return false, err
	}
	p.job.Status = status
	p.job.UpdatedAt = time.Now()

	if len(resp.Batches) < p.seen {
		return false, classify.Protocol(fmt.Sprintf("batch history shrank from %d to %d", p.seen, len(resp.Batches)))
	}
	for _, wb := range resp.Batches[p.seen:] {
		b, err := wb.Decode(p.cfg.Labels, p.seen)
		if err != nil {
			return false, err
		}
		if err := p.sink.OnBatch(b); err != nil {
			return false, err
		}
		p.seen++
	}

	switch status {
	case classify.StatusComplete:
		if resp.FinalResult == nil {
			return false, classify.Protocol("job reported complete without a final result")
		}
		final, err := resp.FinalResult.Decode(p.cfg.Labels)
		if err != nil {
			return false, err
		}
		if err := p.sink.OnFinal(final); err != nil {
			return false, err
		}
		p.state = Completed
		p.stats.EndedAt = time.Now()
		p.cancel()
		log.Info().
			Str("jobKey", p.key).
			Str("finalLabel", final.FinalLabel.String()).
			Int("batches", p.seen).
			Int("ticks", p.stats.Ticks).
			Msg("Job complete")
		return true, nil
	case classify.StatusFailed:
		return false, classify.JobFailed(p.key, resp.Error)
	}
	return false, nil
}

func (p *Poller) liveLocked(epoch uint64) bool {
	return p.state == Polling && p.epoch == epoch
}

// failLocked moves a live poller to Failed and returns the recorded error.
func (p *Poller) failLocked(err error) error {
	p.state = Failed
	p.err = err
	p.stats.EndedAt = time.Now()
	p.cancel()
	log.Error().Err(err).Str("jobKey", p.key).Uint64("epoch", p.epoch).Int("batches", p.seen).Msg("Polling failed")
	return err
}

func (p *Poller) failIfLive(epoch uint64, err error) {
	p.mu.Lock()
	if !p.liveLocked(epoch) {
		p.mu.Unlock()
		return
	}
	failure := p.failLocked(err)
	p.mu.Unlock()
	p.notify(failure)
}

func (p *Poller) notify(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(p.key, err)
	}
}
