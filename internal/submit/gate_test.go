package submit

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fpang/seetrue/internal/classify"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}

// MockUploader is a mock implementation of the Uploader interface.
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, p classify.Payload) (*classify.SubmitResponse, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classify.SubmitResponse), args.Error(1)
}

const header = "Timestamp,Gazepoint X,Gazepoint Y,Pupil area (right) sq mm,Pupil area (left) sq mm,Eye event\n"

func payload(data string) *classify.Payload {
	return &classify.Payload{Name: "gaze.csv", Data: []byte(data)}
}

func TestSubmit_EmptyPayloadNeverCallsService(t *testing.T) {
	up := new(MockUploader)
	g := NewGate(up)

	for _, p := range []*classify.Payload{nil, {Name: "empty.csv"}, {Data: []byte{}}} {
		_, err := g.Submit(context.Background(), p)
		assert.True(t, classify.IsKind(err, classify.KindValidation), "got %v", err)
	}

	up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	assert.False(t, g.InFlight())
}

func TestSubmit_Accepted(t *testing.T) {
	up := new(MockUploader)
	up.On("Upload", mock.Anything, mock.Anything).Return(&classify.SubmitResponse{Key: " job-42 "}, nil).Once()

	out, err := NewGate(up).Submit(context.Background(), payload(header))
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Kind)
	assert.Equal(t, "job-42", out.JobKey)
	assert.Nil(t, out.Predictions)
	up.AssertNumberOfCalls(t, "Upload", 1)
}

func TestSubmit_Immediate(t *testing.T) {
	rows := []classify.PredictionRow{{Predictions: []float64{0.2, 0.8}, LabelClasses: []string{"walking", "reading"}}}
	up := new(MockUploader)
	up.On("Upload", mock.Anything, mock.Anything).Return(&classify.SubmitResponse{Predictions: rows}, nil).Once()

	out, err := NewGate(up).Submit(context.Background(), payload(header))
	require.NoError(t, err)
	assert.Equal(t, Immediate, out.Kind)
	assert.Equal(t, rows, out.Predictions)
	assert.Empty(t, out.JobKey)
}

func TestSubmit_ImmediateWithNoRows(t *testing.T) {
	up := new(MockUploader)
	up.On("Upload", mock.Anything, mock.Anything).Return(&classify.SubmitResponse{Predictions: []classify.PredictionRow{}}, nil)

	out, err := NewGate(up).Submit(context.Background(), payload(header))
	require.NoError(t, err)
	assert.Equal(t, Immediate, out.Kind)
	assert.Empty(t, out.Predictions)
}

func TestSubmit_TransportError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	up := new(MockUploader)
	up.On("Upload", mock.Anything, mock.Anything).Return(nil, cause).Once()

	g := NewGate(up)
	out, err := g.Submit(context.Background(), payload(header))
	assert.True(t, classify.IsKind(err, classify.KindTransport), "got %v", err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Outcome{}, out)
	assert.False(t, g.InFlight(), "in-flight flag must clear after a failure")
	up.AssertNumberOfCalls(t, "Upload", 1)
}

func TestSubmit_AmbiguousResponses(t *testing.T) {
	tests := []struct {
		name string
		resp *classify.SubmitResponse
	}{
		{"both", &classify.SubmitResponse{Key: "k", Predictions: []classify.PredictionRow{{}}}},
		{"neither", &classify.SubmitResponse{Message: "ok"}},
		{"blank key", &classify.SubmitResponse{Key: "   "}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := new(MockUploader)
			up.On("Upload", mock.Anything, mock.Anything).Return(tt.resp, nil)
			out, err := NewGate(up).Submit(context.Background(), payload(header))
			assert.True(t, classify.IsKind(err, classify.KindTransport), "got %v", err)
			assert.Equal(t, Outcome{}, out)
		})
	}
}

// blockingUploader parks inside Upload until released.
type blockingUploader struct {
	entered chan struct{}
	release chan struct{}
	calls   int
}

func (b *blockingUploader) Upload(ctx context.Context, p classify.Payload) (*classify.SubmitResponse, error) {
	b.calls++
	close(b.entered)
	<-b.release
	return &classify.SubmitResponse{Key: "job-1"}, nil
}

func TestSubmit_RejectsDuplicateWhileInFlight(t *testing.T) {
	up := &blockingUploader{entered: make(chan struct{}), release: make(chan struct{})}
	g := NewGate(up)

	done := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), payload(header))
		done <- err
	}()
	<-up.entered
	assert.True(t, g.InFlight())

	_, err := g.Submit(context.Background(), payload(header))
	assert.True(t, classify.IsKind(err, classify.KindValidation), "got %v", err)

	close(up.release)
	require.NoError(t, <-done)
	assert.False(t, g.InFlight())
	assert.Equal(t, 1, up.calls)
}

func TestSubmit_ChecksRunBeforeUpload(t *testing.T) {
	up := new(MockUploader)
	g := NewGate(up, AllowedExtensions("csv"), RequiredColumns(DefaultRequiredColumns...))

	_, err := g.Submit(context.Background(), &classify.Payload{Name: "gaze.xlsx", Data: []byte(header)})
	assert.True(t, classify.IsKind(err, classify.KindValidation))

	_, err = g.Submit(context.Background(), payload("Timestamp,Gazepoint X\n1,2\n"))
	require.True(t, classify.IsKind(err, classify.KindValidation))
	assert.Contains(t, err.Error(), "Gazepoint Y")
	assert.Contains(t, err.Error(), "Eye event")

	up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}
