// Package stub is an in-process stand-in for the remote classification
// service. It speaks the same wire contract: POST /classify accepts a
// multipart CSV upload and either answers with per-row predictions or
// creates a job, and GET /status/{key} reports the job's cumulative batches.
//
// Scores come from a small gaze-motion heuristic, not a trained model.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/jobs"
	"github.com/fpang/seetrue/internal/service"
	"github.com/fpang/seetrue/internal/submit"
)

// Defaults for Config.
const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 2 * time.Second
	maxUploadBytes    = 32 << 20
)

// Config tunes the stub.
type Config struct {
	// BatchSize is the number of rows averaged into one batch.
	BatchSize int
	// BatchDelay is the pause before each batch and before the final verdict.
	BatchDelay time.Duration
	// RequiredColumns are checked on every upload.
	RequiredColumns []string
}

// Server holds the in-memory job registry.
type Server struct {
	cfg    Config
	labels classify.LabelSet
	check  submit.Check
	jobs   registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stub server. Call Close to stop running jobs.
func New(cfg Config) *Server {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.RequiredColumns == nil {
		cfg.RequiredColumns = submit.DefaultRequiredColumns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		labels: classify.DefaultLabels,
		check:  submit.RequiredColumns(cfg.RequiredColumns...),
		jobs:   registry{jobs: make(map[string]*job)},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the routed, logged HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(service.DefaultSubmitPath, s.handleClassify)
	mux.HandleFunc(service.DefaultStatusPath, s.handleStatus)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			httpError(w, http.StatusNotFound, "not found")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "Classification stub is running"})
	})
	return withLogging(withCORS(mux))
}

// Close stops all running jobs and waits for them to exit.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// POST /classify[?mode=sync][&fail_after=N]
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	data, name, err := readUpload(w, r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.check(classify.Payload{Name: name, Data: data}); err != nil {
		httpError(w, http.StatusBadRequest, "Missing required columns in the CSV file")
		return
	}
	samples, err := parseSamples(data)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows := predict(samples, s.labels)

	if r.URL.Query().Get("mode") == "sync" {
		log.Info().Str("file", name).Int("rows", len(rows)).Msg("Synchronous classification")
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Predictions generated successfully",
			"predictions": rows,
		})
		return
	}

	failAfter := -1
	if v := r.URL.Query().Get("fail_after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "fail_after must be a non-negative integer")
			return
		}
		failAfter = n
	}

	j := s.jobs.add(name, rows, failAfter)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runJob(s.ctx, j, s.cfg.BatchSize, s.cfg.BatchDelay, s.labels)
	}()

	respondJSON(w, http.StatusAccepted, classify.SubmitResponse{
		Message: "Job accepted",
		Key:     j.key,
	})
}

// GET /status/{key}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key, ok := jobs.ParseRoute(r.URL.Path, service.DefaultStatusPath, jobs.KeyPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if !jobs.ValidKey(key, jobs.KeyPrefix) {
		httpError(w, http.StatusBadRequest, "invalid job key")
		return
	}
	j := s.jobs.get(key)
	if j == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, j.view())
}

// readUpload returns the bytes and filename of the multipart "file" field,
// decompressing a gzip-encoded request body first.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, "", errors.New("invalid gzip body")
		}
		defer zr.Close()
		r.Body = io.NopCloser(zr)
		r.Header.Del("Content-Encoding")
	}

	file, header, err := r.FormFile(service.FormField)
	if err != nil {
		return nil, "", errors.New("no file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("failed to read uploaded file")
	}
	if len(data) == 0 {
		return nil, "", errNoSamples
	}
	return data, header.Filename, nil
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", r.Header.Get(service.RequestIDHeader)).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only local origins, for browser front ends under development.
		origin := r.Header.Get("Origin")
		if origin != "" && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, "+service.RequestIDHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of an empty 2xx.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		body = []byte(`{"detail":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// httpError writes the {"detail": ...} shape the service uses for errors.
func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}
