// Package submit implements the submission gate: it validates a payload,
// transmits it to the classification service exactly once, and reports
// either an immediate result or the key of an accepted job.
package submit

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
)

// Uploader is the remote half of a submission. *service.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, p classify.Payload) (*classify.SubmitResponse, error)
}

// OutcomeKind distinguishes the synchronous and asynchronous paths.
type OutcomeKind int

const (
	// Immediate means the service classified the payload in the same response.
	Immediate OutcomeKind = iota + 1
	// Accepted means the service created a job that must be polled.
	Accepted
)

func (k OutcomeKind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Accepted:
		return "accepted"
	default:
		return "none"
	}
}

// Outcome is the successful result of a submission.
type Outcome struct {
	Kind        OutcomeKind
	Predictions []classify.PredictionRow
	JobKey      string
}

// Gate validates and transmits payloads. Apart from the in-flight flag it
// keeps no state between calls.
type Gate struct {
	uploader Uploader
	checks   []Check
	inFlight atomic.Bool
}

// NewGate creates a gate that uploads through u after running checks in order.
func NewGate(u Uploader, checks ...Check) *Gate {
	return &Gate{uploader: u, checks: checks}
}

// InFlight reports whether a submission is currently being transmitted.
// UIs use it to disable duplicate submits.
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}

// Submit validates p and sends it to the service. Validation failures never
// reach the network. Any failure of the exchange itself, including a body
// that cannot be interpreted, is a transport error and creates no job.
func (g *Gate) Submit(ctx context.Context, p *classify.Payload) (Outcome, error) {
	if err := g.Validate(p); err != nil {
		return Outcome{}, err
	}

	if !g.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, classify.Validation("a submission is already in flight")
	}
	defer g.inFlight.Store(false)

	start := time.Now()
	log.Debug().Str("file", p.Name).Int("bytes", len(p.Data)).Msg("Submitting payload")

	resp, err := g.uploader.Upload(ctx, *p)
	if err != nil {
		log.Warn().Err(err).Str("file", p.Name).Dur("duration", time.Since(start)).Msg("Submission failed")
		return Outcome{}, classify.Transport("submit", err)
	}

	outcome, err := interpret(resp)
	if err != nil {
		log.Warn().Err(err).Str("file", p.Name).Msg("Submission response rejected")
		return Outcome{}, err
	}

	log.Info().
		Str("file", p.Name).
		Str("outcome", outcome.Kind.String()).
		Str("jobKey", outcome.JobKey).
		Int("predictions", len(outcome.Predictions)).
		Dur("duration", time.Since(start)).
		Msg("Submission accepted")
	return outcome, nil
}

// Validate runs the local checks Submit performs before any network call.
func (g *Gate) Validate(p *classify.Payload) error {
	if p.Empty() {
		return classify.Validation("no data to submit: select a non-empty file first")
	}
	for _, check := range g.checks {
		if err := check(*p); err != nil {
			return err
		}
	}
	return nil
}

// interpret maps a submit response onto exactly one outcome.
func interpret(resp *classify.SubmitResponse) (Outcome, error) {
	if resp == nil {
		return Outcome{}, classify.Transport("submit", errors.New("empty response"))
	}
	key := strings.TrimSpace(resp.Key)
	hasKey := key != ""
	hasPredictions := resp.Predictions != nil

	switch {
	case hasKey && hasPredictions:
		return Outcome{}, classify.Transport("submit", errors.New("response carries both predictions and a job key"))
	case hasKey:
		return Outcome{Kind: Accepted, JobKey: key}, nil
	case hasPredictions:
		return Outcome{Kind: Immediate, Predictions: resp.Predictions}, nil
	default:
		return Outcome{}, classify.Transport("submit", errors.New("response carries neither predictions nor a job key"))
	}
}
