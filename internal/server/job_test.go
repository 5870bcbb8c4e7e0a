package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Kind: store.KindSimulate, Bodies: 128, Steps: 10})

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Bodies != 128 {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Kind: store.KindBench})

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// Copies are detached from the managed job
	retrieved.State = StateFailed
	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Error("Modifying a copy changed the managed job")
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(JobConfig{Kind: store.KindBench})
	time.Sleep(time.Millisecond)
	jm.CreateJob(JobConfig{Kind: store.KindTune})

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Kind: store.KindSimulate})

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Step = 10
		j.Energy = -1.5
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning || updated.Step != 10 || updated.Energy != -1.5 {
		t.Errorf("Job not updated: %+v", updated)
	}
	if running := jm.GetRunningJobs(); len(running) != 1 {
		t.Errorf("Expected 1 running job, got %d", len(running))
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobManager_Cancel(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Kind: store.KindSimulate})

	if err := jm.Cancel("nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.setCancel(job.ID, cancel)

	if err := jm.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Job context was not cancelled")
	}

	markJobCancelled(jm, job.ID)
	if err := jm.Cancel(job.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Expected ErrJobFinished, got %v", err)
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Kind: store.KindSimulate})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Step = step
			})
			jm.GetJob(job.ID)
			jm.ListJobs()
		}(i)
	}
	wg.Wait()

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}

func TestJobConfig_Apply(t *testing.T) {
	base := config.Default()
	base.Bench.Backends = []string{"host"}
	device := 0

	cfg := JobConfig{
		Kind:    store.KindSimulate,
		Backend: "cpu",
		Device:  &device,
		Bodies:  256,
		Steps:   50,
	}.Apply(base)

	if cfg.Backend != "host" || cfg.Device != 0 {
		t.Errorf("Backend/device = %s/%d, want host/0", cfg.Backend, cfg.Device)
	}
	if cfg.Simulate.Bodies != 256 || cfg.Simulate.MaxSteps != 50 {
		t.Errorf("Simulate overrides not applied: %+v", cfg.Simulate)
	}
	if cfg.Simulate.StepSize != base.Simulate.StepSize {
		t.Error("Unset fields should keep base values")
	}

	cfg.Bench.Backends[0] = "opencl"
	if base.Bench.Backends[0] != "host" {
		t.Error("Apply must not share slices with the base config")
	}
}
