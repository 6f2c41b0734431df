package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/config"
	"github.com/fpang/seetrue/internal/poll"
)

func TestFormatDurationShort(t *testing.T) {
	assert.Equal(t, "0:05", FormatDurationShort(5*time.Second))
	assert.Equal(t, "2:03", FormatDurationShort(123*time.Second))
	assert.Equal(t, "1:00:01", FormatDurationShort(time.Hour+time.Second))
}

func TestFormatMeasures(t *testing.T) {
	got := FormatMeasures(map[string]float64{"zeta": 0.1, "reading": 0.5, "walking": 0.25, "alpha": 0}, classify.DefaultLabels)
	assert.Equal(t, "walking=0.2500 reading=0.5000 alpha=0.0000 zeta=0.1000", got)
}

func TestFormatBatchAndPrediction(t *testing.T) {
	line := FormatBatch(classify.Batch{SequenceIndex: 2, DominantLabel: classify.LabelReading, Measures: map[string]float64{"reading": 1}}, classify.DefaultLabels)
	assert.Contains(t, line, "#2")
	assert.Contains(t, line, "reading=1.0000")

	d := 3.5
	row := FormatPrediction(7, classify.PredictionRow{Predictions: []float64{0.2, 0.8}, LabelClasses: []string{"walking"}, DistanceToPrevious: &d})
	assert.Contains(t, row, "dist=3.50")
	assert.Contains(t, row, "walking=0.2000 class1=0.8000")
	assert.Contains(t, FormatPrediction(0, classify.PredictionRow{}), "dist=-")
}

func TestPromptForFile(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, "data/gaze.csv", PromptForFile(strings.NewReader("  data/gaze.csv \n"), &out))
	assert.Contains(t, out.String(), "CSV file")
	assert.Equal(t, "last-line.csv", PromptForFile(strings.NewReader("last-line.csv"), &out))
	assert.Empty(t, PromptForFile(strings.NewReader(""), &out))
}

func TestLoadPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gaze.csv")
	require.NoError(t, os.WriteFile(path, []byte("Timestamp\n1\n"), 0o600))

	p, err := LoadPayload(path)
	require.NoError(t, err)
	assert.Equal(t, "gaze.csv", p.Name)
	assert.Equal(t, "Timestamp\n1\n", string(p.Data))

	for _, bad := range []string{"", filepath.Join(dir, "missing.csv"), dir} {
		_, err := LoadPayload(bad)
		assert.True(t, classify.IsKind(err, classify.KindValidation), "path %q: %v", bad, err)
	}
}

func TestDescribeErrorAndExitCode(t *testing.T) {
	transport := classify.Transport("status", errors.New("dial tcp: refused"))
	assert.True(t, strings.HasPrefix(DescribeError(transport), "Could not reach"))
	assert.Equal(t, 1, ExitCode(transport))

	validation := classify.Validation("no data")
	assert.True(t, strings.HasPrefix(DescribeError(validation), "Invalid input"))
	assert.Equal(t, 2, ExitCode(validation))

	assert.Equal(t, "Polling cancelled", DescribeError(poll.ErrCancelled))
	assert.Equal(t, 130, ExitCode(poll.ErrCancelled))
	assert.Contains(t, DescribeError(classify.Ordering(1, 3)), "inconsistent")
	assert.Contains(t, DescribeError(errors.New("boom")), "Unexpected")
	assert.Zero(t, ExitCode(nil))
}

func TestExitCode_InterruptedUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://127.0.0.1:1/classify", nil)
	require.NoError(t, err)
	_, doErr := http.DefaultClient.Do(req)
	require.Error(t, doErr)

	interrupted := classify.Transport("submit", fmt.Errorf("request failed: %w", doErr))
	assert.Equal(t, 130, ExitCode(interrupted))
	assert.Equal(t, "Upload cancelled", DescribeError(interrupted))
}

func TestNewGate_ChecksFromConfig(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	gate := NewGate(nil, cfg)
	err = gate.Validate(&classify.Payload{Name: "notes.txt", Data: []byte("x")})
	assert.True(t, classify.IsKind(err, classify.KindValidation))
	err = gate.Validate(&classify.Payload{Name: "gaze.csv", Data: []byte("Timestamp\n")})
	assert.True(t, classify.IsKind(err, classify.KindValidation), "required columns are enforced")
}

func TestInitHistoryStore_Disabled(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	s, err := InitHistoryStore(t.Context(), cfg)
	assert.NoError(t, err)
	assert.Nil(t, s)
}
