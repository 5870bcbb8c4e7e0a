package server

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Finished reports whether the state is terminal.
func (s JobState) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// JobConfig is the body of a run request. Zero fields keep the server's
// configured values.
type JobConfig struct {
	Kind    store.Kind `json:"kind"`
	Backend string     `json:"backend,omitempty"`
	Device  *int       `json:"device,omitempty"`

	// bench
	Size   int `json:"size,omitempty"`
	Cycles int `json:"cycles,omitempty"`
	Passes int `json:"passes,omitempty"`

	// simulate and tune
	Bodies        int    `json:"bodies,omitempty"`
	Distribution  string `json:"distribution,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
	Steps         int    `json:"steps,omitempty"`
	SnapshotEvery int    `json:"snapshotEvery,omitempty"`
	WorkGroupSize int    `json:"workGroupSize,omitempty"`
	TraceBodies   bool   `json:"traceBodies,omitempty"`
	// ResumeFrom continues a stored simulate run instead of generating bodies.
	ResumeFrom string `json:"resumeFrom,omitempty"`
}

// Apply returns a copy of base with the request's overrides.
func (c JobConfig) Apply(base *config.Config) *config.Config {
	cfg := *base
	cfg.Bench.Backends = slices.Clone(base.Bench.Backends)
	cfg.Simulate.Initial = slices.Clone(base.Simulate.Initial)

	if c.Backend != "" {
		cfg.Backend = string(compute.NormalizeBackend(c.Backend))
		cfg.Bench.Backends = []string{cfg.Backend}
	}
	if c.Device != nil {
		cfg.Device = *c.Device
	}
	if c.Size > 0 {
		cfg.Bench.Size = c.Size
	}
	if c.Cycles > 0 {
		cfg.Bench.Cycles = c.Cycles
	}
	if c.Passes > 0 {
		cfg.Bench.Passes = c.Passes
	}
	if c.Bodies > 0 {
		cfg.Simulate.Bodies = c.Bodies
	}
	if c.Distribution != "" {
		cfg.Simulate.Distribution = c.Distribution
	}
	if c.Seed != 0 {
		cfg.Simulate.Seed = c.Seed
	}
	if c.Steps > 0 {
		cfg.Simulate.MaxSteps = c.Steps
	}
	if c.SnapshotEvery > 0 {
		cfg.Simulate.SnapshotEvery = c.SnapshotEvery
	}
	if c.WorkGroupSize > 0 {
		cfg.Simulate.WorkGroupSize = c.WorkGroupSize
	}
	if c.TraceBodies {
		cfg.Simulate.TraceBodies = true
	}
	return &cfg
}

// Job is a bench, simulate or tune run executing on the server. Its ID is
// also the ID of the stored run.
type Job struct {
	ID           string              `json:"id"`
	State        JobState            `json:"state"`
	Config       JobConfig           `json:"config"`
	Device       string              `json:"device,omitempty"`
	Step         int                 `json:"step"`
	SimTime      float64             `json:"simTime"`
	StepsPerSec  float64             `json:"stepsPerSec"`
	Energy       float64             `json:"energy"`
	Measurements []bench.Measurement `json:"measurements,omitempty"`
	StartTime    time.Time           `json:"startTime"`
	EndTime      *time.Time          `json:"endTime,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	c.Measurements = slices.Clone(j.Measurements)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return &c
}

// Elapsed is the run time so far, or the total once finished.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job and returns a copy of it.
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.clone()
}

// GetJob returns a copy of the job with the given ID.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns copies of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartTime.Before(jobs[k].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return ErrJobNotFound
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.clone())
		}
	}
	return runningJobs
}

func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// Cancel stops a pending or running job. The job records the cancelled
// state once its worker returns.
func (jm *JobManager) Cancel(id string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	if !exists {
		jm.mu.RUnlock()
		return ErrJobNotFound
	}
	state := job.State
	cancel := jm.cancels[id]
	jm.mu.RUnlock()

	if state.Finished() || cancel == nil {
		return ErrJobFinished
	}
	cancel()
	return nil
}
