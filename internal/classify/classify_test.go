package classify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLabelSet(t *testing.T) {
	s, err := NewLabelSet(" Walking", "reading", "PLAYING ")
	require.NoError(t, err)
	assert.Equal(t, []Label{LabelWalking, LabelReading, LabelPlaying}, s.Labels())

	_, err = NewLabelSet()
	assert.Error(t, err)
	_, err = NewLabelSet("walking", "walking")
	assert.Error(t, err)
	_, err = NewLabelSet("walking", "unknown")
	assert.Error(t, err)
	_, err = NewLabelSet("walking", " ")
	assert.Error(t, err)
}

func TestLabelSet_Parse(t *testing.T) {
	l, err := DefaultLabels.Parse("Reading ")
	require.NoError(t, err)
	assert.Equal(t, LabelReading, l)

	_, err = DefaultLabels.Parse("sleeping")
	assert.True(t, IsKind(err, KindUnknownLabel), "got %v", err)

	_, err = DefaultLabels.Parse("unknown")
	assert.True(t, IsKind(err, KindUnknownLabel), "sentinel must not be accepted from the service")
}

func TestLabelSet_Dominant(t *testing.T) {
	tests := []struct {
		name     string
		measures map[string]float64
		want     Label
		wantErr  bool
	}{
		{"highest wins", map[string]float64{"walking": 0.1, "reading": 0.7, "playing": 0.2}, LabelReading, false},
		{"tie goes to set order", map[string]float64{"playing": 0.5, "walking": 0.5}, LabelWalking, false},
		{"foreign keys ignored", map[string]float64{"sleeping": 9, "playing": 0.1}, LabelPlaying, false},
		{"negative scores", map[string]float64{"walking": -3, "reading": -1}, LabelReading, false},
		{"nothing known", map[string]float64{"sleeping": 1}, "", true},
		{"empty", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultLabels.Dominant(tt.measures)
			if tt.wantErr {
				assert.True(t, IsKind(err, KindProtocol), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"pending", "processing", "complete", "failed"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, JobStatus(raw), s)
	}
	_, err := ParseStatus("done")
	assert.True(t, IsKind(err, KindProtocol))

	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestWireBatch_Decode(t *testing.T) {
	w := WireBatch{HighestClass: "walking", Means: map[string]float64{"walking": 0.8, "reading": 0.2}}
	b, err := w.Decode(DefaultLabels, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, b.SequenceIndex)
	assert.Equal(t, LabelWalking, b.DominantLabel)
	assert.Equal(t, w.Means, b.Measures)

	// The decoded measures must not alias the wire map.
	w.Means["walking"] = 0
	assert.Equal(t, 0.8, b.Measures["walking"])
}

func TestWireBatch_DecodeDerivesMissingLabel(t *testing.T) {
	w := WireBatch{Means: map[string]float64{"walking": 0.1, "playing": 0.9}}
	b, err := w.Decode(DefaultLabels, 0)
	require.NoError(t, err)
	assert.Equal(t, LabelPlaying, b.DominantLabel)
}

func TestWireBatch_DecodeUnknownLabel(t *testing.T) {
	_, err := WireBatch{HighestClass: "dancing"}.Decode(DefaultLabels, 0)
	assert.True(t, IsKind(err, KindUnknownLabel))
}

func TestWireFinal_Decode(t *testing.T) {
	f, err := WireFinal{FinalActivity: "walking"}.Decode(DefaultLabels)
	require.NoError(t, err)
	assert.Equal(t, LabelWalking, f.FinalLabel)

	_, err = WireFinal{FinalActivity: ""}.Decode(DefaultLabels)
	assert.True(t, IsKind(err, KindUnknownLabel))
}

func TestError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("poll: %w", Transport("status", cause))

	assert.True(t, IsKind(err, KindTransport))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "status request failed: connection refused")

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.Equal(t, "premature_final", KindPrematureFinal.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestPayload_Empty(t *testing.T) {
	var p *Payload
	assert.True(t, p.Empty())
	assert.True(t, (&Payload{Name: "x.csv"}).Empty())
	assert.False(t, (&Payload{Data: []byte("a")}).Empty())
}
