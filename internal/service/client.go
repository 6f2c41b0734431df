// Package service provides an HTTP client for the remote classification
// service. The service exposes two endpoints:
//  1. POST /classify with a multipart "file" field. It answers either with
//     prediction rows (synchronous) or with a job key (asynchronous).
//  2. GET /status/{key} returning the job status and the cumulative batch
//     history, plus the final verdict once the job is complete.
//
// The client performs exactly one HTTP exchange per call and never retries;
// retry policy belongs to callers.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
)

const (
	// DefaultTimeout is the HTTP client timeout for a single request.
	DefaultTimeout = 30 * time.Second

	DefaultSubmitPath = "/classify"
	DefaultStatusPath = "/status/"

	// FormField is the multipart field the service reads the upload from.
	FormField = "file"

	// RequestIDHeader carries a per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	defaultFilename = "upload.csv"
)

// Client talks to the classification service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	submitPath string
	statusPath string
	compress   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests use httptest's client).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithPaths overrides the submit and status endpoint paths.
func WithPaths(submitPath, statusPath string) Option {
	return func(c *Client) {
		if submitPath != "" {
			c.submitPath = submitPath
		}
		if statusPath != "" {
			c.statusPath = statusPath
		}
	}
}

// WithCompression gzips upload bodies and sets Content-Encoding accordingly.
func WithCompression(enabled bool) Option {
	return func(c *Client) { c.compress = enabled }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		submitPath: DefaultSubmitPath,
		statusPath: DefaultStatusPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload sends the payload as a multipart file upload.
func (c *Client) Upload(ctx context.Context, p classify.Payload) (*classify.SubmitResponse, error) {
	body, contentType, err := encodeMultipart(p)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	var encoding string
	if c.compress {
		rawSize := body.Len()
		body, err = gzipBody(body)
		if err != nil {
			return nil, fmt.Errorf("compress upload: %w", err)
		}
		encoding = "gzip"
		log.Trace().Int("rawBytes", rawSize).Int("gzipBytes", body.Len()).Msg("Upload body compressed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.submitPath, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp classify.SubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(raw), 200))
	}
	return &resp, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, key string) (*classify.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.statusPath+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp classify.StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(raw), 200))
	}
	return &resp, nil
}

// errorBody matches the {"detail": "..."} and {"error": "..."} error shapes.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("requestId", requestID).Msg("Classification service request")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Str("requestId", requestID).Err(err).Msg("Classification service response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Str("requestId", requestID).Msg("Classification service response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			if msg := firstNonEmpty(eb.Detail, eb.Error); msg != "" {
				return nil, fmt.Errorf("service returned HTTP %d: %s", httpResp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("service returned HTTP %d (body: %s)", httpResp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func encodeMultipart(p classify.Payload) (*bytes.Buffer, string, error) {
	name := p.Name
	if name == "" {
		name = defaultFilename
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(FormField, name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func gzipBody(in *bytes.Buffer) (*bytes.Buffer, error) {
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	if _, err := io.Copy(zw, in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate returns at most n bytes of s, appending "..." if truncated. The
// cut backs off to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
