package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	worker     *worker
	store      store.Store
	addr       string
	server     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// NewServer creates a server that runs jobs with cfg as the base
// configuration and saves their runs to st.
func NewServer(cfg *config.Config, st store.Store, source string) *Server {
	jm := NewJobManager()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobManager: jm,
		worker: &worker{
			jm:     jm,
			store:  st,
			cfg:    cfg,
			source: source,
			slots:  semaphore.NewWeighted(int64(max(cfg.Server.MaxConcurrent, 1))),
		},
		store:  st,
		addr:   cfg.Server.Addr,
		ctx:    ctx,
		cancel: cancel,
	}
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed and wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels every job, waits for their runs to be saved and stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, job := range s.jobManager.ListJobs() {
		s.jobManager.broadcaster.CleanupJob(job.ID)
	}
	return s.server.Shutdown(ctx)
}

// submit creates a job and starts its worker.
func (s *Server) submit(config JobConfig) *Job {
	job := s.jobManager.CreateJob(config)

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.setCancel(job.ID, cancel)

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.jobManager.clearCancel(job.ID)
		defer cancel()
		s.worker.runJob(ctx, job.ID)
	}()
	return job
}

// handleRuns handles /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/v1/runs/:id/*
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	id := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch {
	case r.Method == http.MethodDelete && sub == "":
		s.handleCancelRun(w, id)
	case r.Method != http.MethodGet:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case sub == "":
		s.handleGetRun(w, id)
	case sub == "status":
		s.handleGetRunStatus(w, id)
	case sub == "stream":
		s.handleRunStream(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	switch config.Kind {
	case store.KindBench, store.KindSimulate, store.KindTune:
	case "":
		http.Error(w, "kind is required", http.StatusBadRequest)
		return
	default:
		http.Error(w, fmt.Sprintf("unknown kind %q", config.Kind), http.StatusBadRequest)
		return
	}
	if config.ResumeFrom != "" && config.Kind != store.KindSimulate {
		http.Error(w, "resumeFrom requires kind simulate", http.StatusBadRequest)
		return
	}
	if err := config.Apply(s.worker.cfg).Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.submit(config)

	writeJSON(w, http.StatusCreated, job)
}

// RunList is the response of GET /api/v1/runs.
type RunList struct {
	Jobs []*Job          `json:"jobs"`
	Runs []store.RunInfo `json:"runs"`
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, RunList{Jobs: s.jobManager.ListJobs(), Runs: infos})
}

// handleGetRun returns the stored run, or the live job while it has none.
func (s *Server) handleGetRun(w http.ResponseWriter, id string) {
	run, err := s.store.LoadRun(id)
	if err == nil {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job, exists := s.jobManager.GetJob(id)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StatusResponse is the response of GET /api/v1/runs/:id/status.
type StatusResponse struct {
	ID           string     `json:"id"`
	Kind         store.Kind `json:"kind"`
	State        JobState   `json:"state"`
	Device       string     `json:"device,omitempty"`
	Step         int        `json:"step"`
	SimTime      float64    `json:"simTime"`
	StepsPerSec  float64    `json:"stepsPerSec"`
	Energy       float64    `json:"energy"`
	Measurements int        `json:"measurements"`
	Elapsed      float64    `json:"elapsed"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// handleGetRunStatus handles GET /api/v1/runs/:id/status
func (s *Server) handleGetRunStatus(w http.ResponseWriter, id string) {
	if job, exists := s.jobManager.GetJob(id); exists {
		writeJSON(w, http.StatusOK, StatusResponse{
			ID:           job.ID,
			Kind:         job.Config.Kind,
			State:        job.State,
			Device:       job.Device,
			Step:         job.Step,
			SimTime:      job.SimTime,
			StepsPerSec:  job.StepsPerSec,
			Energy:       job.Energy,
			Measurements: len(job.Measurements),
			Elapsed:      job.Elapsed().Seconds(),
			StartTime:    job.StartTime,
			EndTime:      job.EndTime,
			Error:        job.Error,
		})
		return
	}

	run, err := s.store.LoadRun(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ID:        run.ID,
		Kind:      run.Kind,
		State:     JobState(run.Status),
		Device:    run.Device,
		StartTime: run.Timestamp,
		Summary:   run.Summary(),
		Error:     run.Error,
	})
}

// handleCancelRun handles DELETE /api/v1/runs/:id
func (s *Server) handleCancelRun(w http.ResponseWriter, id string) {
	err := s.jobManager.Cancel(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Run not found", http.StatusNotFound)
	case errors.Is(err, ErrJobFinished):
		http.Error(w, "Run already finished", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleDevices lists the platforms of every backend available in this build.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var platforms []compute.PlatformInfo
	for _, b := range compute.SupportedBackends() {
		ps, err := compute.Platforms(b)
		if err != nil {
			slog.Debug("Backend unavailable", "backend", b, "error", err)
			continue
		}
		platforms = append(platforms, ps...)
	}
	writeJSON(w, http.StatusOK, platforms)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
