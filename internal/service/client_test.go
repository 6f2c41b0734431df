package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/seetrue/internal/classify"
)

const sampleCSV = "Timestamp,Gazepoint X,Gazepoint Y\n1,0.5,0.5\n"

func newTestClient(server *httptest.Server, opts ...Option) *Client {
	return NewClient(server.URL, append([]Option{WithHTTPClient(server.Client())}, opts...)...)
}

func TestUpload_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/classify", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))

		f, hdr, err := r.FormFile(FormField)
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "gaze.csv", hdr.Filename)
		assert.Equal(t, sampleCSV, string(data))

		json.NewEncoder(w).Encode(classify.SubmitResponse{Key: "job-001"})
	}))
	defer server.Close()

	resp, err := newTestClient(server).Upload(context.Background(), classify.Payload{Name: "gaze.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, "job-001", resp.Key)
	assert.Empty(t, resp.Predictions)
}

func TestUpload_DefaultFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile(FormField)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, defaultFilename, hdr.Filename)
		json.NewEncoder(w).Encode(classify.SubmitResponse{Key: "k"})
	}))
	defer server.Close()

	_, err := newTestClient(server).Upload(context.Background(), classify.Payload{Data: []byte("x")})
	require.NoError(t, err)
}

func TestUpload_Gzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		r.Body = io.NopCloser(zr)

		f, _, err := r.FormFile(FormField)
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, sampleCSV, string(data))

		json.NewEncoder(w).Encode(classify.SubmitResponse{Key: "job-gz"})
	}))
	defer server.Close()

	resp, err := newTestClient(server, WithCompression(true)).Upload(context.Background(), classify.Payload{Name: "a.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, "job-gz", resp.Key)
}

func TestUpload_SyncPredictions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"Predictions generated successfully","predictions":[
			{"predictions":[0.1,0.7,0.2],"label_classes":["walking","reading","playing"],"prev_euclidean_distance":1.5},
			{"predictions":[0.9,0.05,0.05],"label_classes":["walking","reading","playing"]}]}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server).Upload(context.Background(), classify.Payload{Data: []byte(sampleCSV)})
	require.NoError(t, err)
	require.Len(t, resp.Predictions, 2)
	require.NotNil(t, resp.Predictions[0].DistanceToPrevious)
	assert.Equal(t, 1.5, *resp.Predictions[0].DistanceToPrevious)
	assert.Nil(t, resp.Predictions[1].DistanceToPrevious)
	assert.Equal(t, []float64{0.9, 0.05, 0.05}, resp.Predictions[1].Predictions)
}

func TestUpload_HTTPErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"Missing required columns in the CSV file"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server).Upload(context.Background(), classify.Payload{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "Missing required columns")
}

func TestUpload_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"key":`)
	}))
	defer server.Close()

	_, err := newTestClient(server).Upload(context.Background(), classify.Payload{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/status/job 7", r.URL.Path)
		io.WriteString(w, `{"status":"complete","batches":[{"highest_class":"walking","means":{"walking":0.6,"reading":0.4}}],"final_result":{"final_activity":"walking"}}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server).Status(context.Background(), "job 7")
	require.NoError(t, err)
	assert.Equal(t, "complete", resp.Status)
	require.Len(t, resp.Batches, 1)
	assert.Equal(t, "walking", resp.Batches[0].HighestClass)
	assert.Equal(t, 0.4, resp.Batches[0].Means["reading"])
	require.NotNil(t, resp.FinalResult)
	assert.Equal(t, "walking", resp.FinalResult.FinalActivity)
}

func TestStatus_CustomPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/api/jobs/"), r.URL.Path)
		io.WriteString(w, `{"status":"pending","batches":[]}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server, WithPaths("", "/api/jobs/")).Status(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "pending", resp.Status)
}

func TestStatus_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	_, err := newTestClient(server).Status(context.Background(), "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		limit    int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is a ..."},
		{"exact", 5, "exact"},
		{"aé-body", 2, "a..."}, // é is two bytes
		{strings.Repeat("ü", 150), 201, strings.Repeat("ü", 100) + "..."},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.limit)
		assert.Equal(t, tt.expected, got)
		assert.True(t, utf8.ValidString(got), got)
	}
}

func TestStatus_ErrorBodyWithMultibyteText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>"+strings.Repeat("é", 150)+"</html>")
	}))
	defer server.Close()

	_, err := newTestClient(server).Status(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), "HTTP 502")
}
