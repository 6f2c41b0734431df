package classify

import (
	"errors"
	"fmt"
	"time"
)

// Error is the single error type surfaced by the submission, polling and
// aggregation components. Kind says which part of the contract broke.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Kind categorizes failures. Every kind is terminal for the current job.
type Kind int

const (
	// KindValidation is bad or missing input, caught before any network call.
	KindValidation Kind = iota
	// KindTransport is a failed, timed out or unparseable exchange with the service.
	KindTransport
	// KindOrdering is a batch whose sequence index does not extend the history.
	KindOrdering
	// KindPrematureFinal is a final result that arrived before any batch.
	KindPrematureFinal
	// KindDuplicateFinal is a second final result for the same job.
	KindDuplicateFinal
	// KindUnknownLabel is a label outside the agreed set.
	KindUnknownLabel
	// KindProtocol is any other response that breaks the wire contract.
	KindProtocol
	// KindJobFailed means the service itself reported the job as failed.
	KindJobFailed
	// KindTimeout means the job exceeded the configured maximum poll duration.
	KindTimeout
)

var kindNames = map[Kind]string{
	KindValidation:     "validation",
	KindTransport:      "transport",
	KindOrdering:       "ordering",
	KindPrematureFinal: "premature_final",
	KindDuplicateFinal: "duplicate_final",
	KindUnknownLabel:   "unknown_label",
	KindProtocol:       "protocol",
	KindJobFailed:      "job_failed",
	KindTimeout:        "timeout",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Transport wraps a failed exchange. op names the request ("submit", "status").
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Message: op + " request failed", Err: err}
}

func Ordering(expected, got int) *Error {
	return &Error{
		Kind:    KindOrdering,
		Message: fmt.Sprintf("batch sequence index %d does not follow history (expected %d)", got, expected),
	}
}

func PrematureFinal() *Error {
	return &Error{Kind: KindPrematureFinal, Message: "final result received before any batch"}
}

func DuplicateFinal() *Error {
	return &Error{Kind: KindDuplicateFinal, Message: "final result already recorded for this job"}
}

func UnknownLabel(raw string) *Error {
	return &Error{Kind: KindUnknownLabel, Message: fmt.Sprintf("label %q is not in the agreed label set", raw)}
}

func Protocol(msg string) *Error {
	return &Error{Kind: KindProtocol, Message: msg}
}

func JobFailed(key, reason string) *Error {
	msg := fmt.Sprintf("job %s failed on the service", key)
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{Kind: KindJobFailed, Message: msg}
}

func Timeout(key string, after time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("job %s still not complete after %s", key, after)}
}
