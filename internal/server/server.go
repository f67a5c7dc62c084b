// Package server exposes conversions over HTTP. Submitted jobs run
// sequentially on one background worker; conversions saturate the
// machine on their own, so running several at once buys nothing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/ccpvault00/isyntax2tiff/internal/convert"
	"github.com/ccpvault00/isyntax2tiff/pkg/pyrtiff"
)

// JobState is the lifecycle of a submitted conversion.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// ConvertRequest is the submission body.
type ConvertRequest struct {
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options RequestOptions `json:"options"`
}

// RequestOptions mirrors the CLI conversion flags. Zero values take
// the CLI defaults.
type RequestOptions struct {
	TileSize    int    `json:"tile_size,omitempty"`
	MaxWorkers  int    `json:"max_workers,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	Compression string `json:"compression,omitempty"`
	Quality     int    `json:"quality,omitempty"`
	Pyramid512  bool   `json:"pyramid_512,omitempty"`
	XMLSidecar  bool   `json:"xml,omitempty"`
}

// Job is the externally visible state of one submission.
type Job struct {
	ID        string          `json:"id"`
	State     JobState        `json:"state"`
	Input     string          `json:"input"`
	Output    string          `json:"output"`
	Submitted time.Time       `json:"submitted"`
	Error     string          `json:"error,omitempty"`
	Result    *convert.Result `json:"result,omitempty"`

	opts convert.Options
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server holds the job table and the single worker's queue.
type Server struct {
	startTime time.Time
	version   string
	log       *logrus.Entry

	mu   sync.Mutex
	jobs map[string]*Job

	queue  chan *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a server and starts its background worker.
func NewServer(version string, log *logrus.Entry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		startTime: time.Now(),
		version:   version,
		log:       log,
		jobs:      make(map[string]*Job),
		queue:     make(chan *Job, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.work(ctx)
	return s
}

// Close stops the worker, interrupting a running conversion.
func (s *Server) Close() {
	s.cancel()
	<-s.done
}

// Routes mounts the API endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Post("/convert", s.CreateJob)
	r.Get("/jobs/{id}", s.GetJob)
}

// GetHealth implements the health check endpoint.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
	})
}

// CreateJob validates a submission and queues it.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body")
		return
	}
	opts, err := validateRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	id, err := shortid.Generate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not allocate job id")
		return
	}
	job := &Job{
		ID:        id,
		State:     JobQueued,
		Input:     req.Input,
		Output:    req.Output,
		Submitted: time.Now(),
		opts:      opts,
	}

	s.mu.Lock()
	s.jobs[id] = job
	snap := *job
	s.mu.Unlock()

	select {
	case s.queue <- job:
	default:
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Job queue is full, retry later")
		return
	}

	s.log.Infof("job %s queued: %s -> %s", id, req.Input, req.Output)
	writeJSON(w, http.StatusAccepted, snap)
}

// GetJob reports one job's state.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	var snap Job
	if ok {
		snap = *job
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("No job with id %q", id))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) work(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.setState(job, JobRunning, nil, "")
			res, err := convert.Run(ctx, s.log.WithField("job", job.ID), job.Input, job.Output, job.opts)
			if err != nil {
				s.setState(job, JobFailed, nil, err.Error())
				s.log.WithError(err).Errorf("job %s failed", job.ID)
				continue
			}
			s.setState(job, JobDone, res, "")
			s.log.Infof("job %s done in %s", job.ID, res.Duration.Round(time.Millisecond))
		}
	}
}

func (s *Server) setState(job *Job, state JobState, res *convert.Result, errMsg string) {
	s.mu.Lock()
	job.State = state
	job.Result = res
	job.Error = errMsg
	s.mu.Unlock()
}

func validateRequest(req *ConvertRequest) (convert.Options, error) {
	var opts convert.Options
	if req.Input == "" {
		return opts, fmt.Errorf("input is required")
	}
	if req.Output == "" {
		return opts, fmt.Errorf("output is required")
	}
	o := req.Options
	if o.TileSize < 0 {
		return opts, fmt.Errorf("tile_size must be positive")
	}
	if o.Quality < 0 || o.Quality > 100 {
		return opts, fmt.Errorf("quality must be in 1-100")
	}
	if o.Compression != "" {
		codec, err := pyrtiff.ParseCodec(o.Compression)
		if err != nil {
			return opts, err
		}
		opts.Codec = codec
	}
	opts.TileSize = o.TileSize
	opts.MaxWorkers = o.MaxWorkers
	opts.BatchSize = o.BatchSize
	opts.Quality = o.Quality
	opts.Pyramid512 = o.Pyramid512
	opts.XMLSidecar = o.XMLSidecar
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
