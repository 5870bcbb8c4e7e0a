package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/nbody"
	"github.com/cwbudde/clbench/internal/runner"
	"github.com/cwbudde/clbench/internal/store"
)

// worker executes jobs and persists their runs.
type worker struct {
	jm     *JobManager
	store  store.Store
	cfg    *config.Config
	source string
	slots  *semaphore.Weighted
}

// runJob executes a job in the background once a slot is free. The finished
// run, whatever its status, is saved under the job's ID.
func (w *worker) runJob(ctx context.Context, jobID string) error {
	job, exists := w.jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if err := w.slots.Acquire(ctx, 1); err != nil {
		run := store.NewRun(job.Config.Kind)
		run.ID = jobID
		run.Status = store.StatusCancelled
		run.Error = err.Error()
		if saveErr := w.store.SaveRun(run); saveErr != nil {
			slog.Error("Failed to save run", "job_id", jobID, "error", saveErr)
		}
		markJobCancelled(w.jm, jobID)
		w.broadcast(jobID)
		return err
	}
	defer w.slots.Release(1)

	if err := w.jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.StartTime = time.Now()
	}); err != nil {
		return err
	}
	w.broadcast(jobID)

	slog.Info("Starting job", "job_id", jobID, "kind", job.Config.Kind)

	cfg := job.Config.Apply(w.cfg)
	run, err := w.execute(ctx, job, cfg)
	if run == nil {
		run = store.NewRun(job.Config.Kind)
		run.Status = store.StatusFailed
		run.Error = err.Error()
	}
	run.ID = jobID

	if saveErr := w.store.SaveRun(run); saveErr != nil {
		slog.Error("Failed to save run", "job_id", jobID, "error", saveErr)
		if err == nil {
			err = saveErr
		}
	}

	switch {
	case err == nil:
		markJobCompleted(w.jm, jobID, run)
	case run.Status == store.StatusCancelled:
		markJobCancelled(w.jm, jobID)
	default:
		markJobFailed(w.jm, jobID, err)
	}
	w.broadcast(jobID)
	return err
}

func (w *worker) execute(ctx context.Context, job *Job, cfg *config.Config) (*store.Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch job.Config.Kind {
	case store.KindBench:
		return runner.Bench(ctx, cfg, w.source, func(m bench.Measurement) {
			w.jm.UpdateJob(job.ID, func(j *Job) {
				j.Measurements = append(j.Measurements, m)
				j.Device = m.Device
			})
			event := w.event(job.ID)
			event.Measurement = &m
			w.jm.broadcaster.Broadcast(event)
		})

	case store.KindSimulate:
		sim := runner.NewSimulation(cfg)
		sim.RunID = job.ID
		sim.Observe = func(snap nbody.Snapshot) {
			w.jm.UpdateJob(job.ID, func(j *Job) {
				j.Step = snap.Step
				j.SimTime = snap.SimTime
				j.StepsPerSec = snap.StepsPerSec
				j.Energy = snap.Energy.Total
			})
			w.broadcast(job.ID)
		}
		if job.Config.ResumeFrom != "" {
			return runner.Resume(ctx, cfg, w.source, cfg.DataDir, w.store, job.Config.ResumeFrom, sim)
		}
		return runner.Simulate(ctx, cfg, w.source, cfg.DataDir, sim)

	case store.KindTune:
		return runner.Tune(ctx, cfg, w.source)

	default:
		return nil, fmt.Errorf("unknown run kind %q", job.Config.Kind)
	}
}

func (w *worker) event(jobID string) ProgressEvent {
	job, ok := w.jm.GetJob(jobID)
	if !ok {
		return ProgressEvent{JobID: jobID, Timestamp: time.Now()}
	}
	return eventFromJob(job)
}

func (w *worker) broadcast(jobID string) {
	w.jm.broadcaster.Broadcast(w.event(jobID))
}

// markJobCompleted records the final figures of a successful run.
func markJobCompleted(jm *JobManager, jobID string, run *store.Run) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
		j.Device = run.Device
		if s := run.Simulation; s != nil {
			j.Step = s.Steps
			j.SimTime = s.SimTime
			j.StepsPerSec = s.StepsPerSec
			j.Energy = s.FinalEnergy.Total
		}
	})
	slog.Info("Job completed", "job_id", jobID, "summary", run.Summary())
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
