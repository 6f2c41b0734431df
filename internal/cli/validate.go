package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/poll"
)

// LoadPayload checks that path is a readable regular file and returns its
// contents. An empty file yields an empty payload so the gate reports it.
func LoadPayload(path string) (*classify.Payload, error) {
	if path == "" {
		return nil, classify.Validation("no file selected: select a file first")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, classify.Validation(fmt.Sprintf("file not found: %s", path))
		}
		return nil, fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, classify.Validation(fmt.Sprintf("%s is a directory, not a file", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &classify.Payload{Name: filepath.Base(path), Data: data}, nil
}

// DescribeError turns a failure into the message shown to the user.
func DescribeError(err error) string {
	if errors.Is(err, poll.ErrCancelled) {
		return "Polling cancelled"
	}
	if errors.Is(err, context.Canceled) {
		return "Upload cancelled"
	}
	kind, ok := classify.KindOf(err)
	if !ok {
		return "Unexpected error: " + err.Error()
	}
	switch kind {
	case classify.KindValidation:
		return "Invalid input: " + err.Error()
	case classify.KindTransport:
		return "Could not reach the classification service: " + err.Error()
	case classify.KindJobFailed:
		return "The service could not classify the file: " + err.Error()
	case classify.KindTimeout:
		return "Gave up waiting: " + err.Error()
	case classify.KindUnknownLabel, classify.KindOrdering, classify.KindPrematureFinal,
		classify.KindDuplicateFinal, classify.KindProtocol:
		return "The service sent an inconsistent result: " + err.Error()
	default:
		return err.Error()
	}
}

// ExitCode maps a terminal error onto a process exit status. An interrupted
// upload counts as cancelled even though it surfaces as a transport error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, poll.ErrCancelled), errors.Is(err, context.Canceled):
		return 130
	case classify.IsKind(err, classify.KindValidation):
		return 2
	default:
		return 1
	}
}
