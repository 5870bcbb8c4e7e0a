// Package runner turns a configuration into a finished run: it opens the
// devices, drives the benchmark, simulation or search, and fills in the
// store.Run that callers persist.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/nbody"
	"github.com/cwbudde/clbench/internal/store"
	"github.com/cwbudde/clbench/internal/tune"
)

// Targets resolves the devices a benchmark runs on: the configured device of
// every listed backend, or all of their devices with AllDevices.
func Targets(cfg *config.Config) ([]compute.DeviceInfo, error) {
	backends := cfg.Bench.Backends
	if len(backends) == 0 {
		backends = []string{cfg.Backend}
	}

	var targets []compute.DeviceInfo
	for _, name := range backends {
		backend := compute.NormalizeBackend(name)
		devices, err := compute.Devices(backend)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s devices: %w", backend, err)
		}
		if cfg.Bench.AllDevices {
			if len(devices) == 0 {
				return nil, fmt.Errorf("%s: %w", backend, compute.ErrNoDevices)
			}
			targets = append(targets, devices...)
			continue
		}
		device, err := compute.SelectDevice(devices, cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", backend, err)
		}
		targets = append(targets, device)
	}
	return targets, nil
}

// finish records the outcome of err on run.
func finish(run *store.Run, err error) {
	switch {
	case err == nil:
		run.Status = store.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = store.StatusCancelled
		run.Error = err.Error()
	default:
		run.Status = store.StatusFailed
		run.Error = err.Error()
	}
}

// Bench runs the elementwise add benchmark. The returned run is never nil;
// on error it carries the failed or cancelled status.
func Bench(ctx context.Context, cfg *config.Config, source string, progress bench.Progress) (*store.Run, error) {
	run := store.NewRun(store.KindBench)

	targets, err := Targets(cfg)
	if err != nil {
		finish(run, err)
		return run, err
	}
	run.Backend = targets[0].Backend
	run.Device = targets[0].Name

	opts := bench.Options{
		Size:         cfg.Bench.Size,
		Cycles:       cfg.Bench.Cycles,
		Passes:       cfg.Bench.Passes,
		Left:         cfg.Bench.Left,
		Right:        cfg.Bench.Right,
		BuildOptions: cfg.BuildOptions,
	}

	run.Bench, err = bench.Run(ctx, opts, targets, source, progress)
	if err == nil && !run.Bench.Verified() {
		slog.Warn("Benchmark output did not verify", "id", run.ID)
	}
	finish(run, err)
	return run, err
}

// SimOptions maps the simulate section of cfg to stepper options.
func SimOptions(cfg *config.Config) nbody.Options {
	return nbody.Options{
		Gravity:       cfg.Simulate.Gravity,
		StepSize:      cfg.Simulate.StepSize,
		FixedStep:     cfg.Simulate.FixedStep,
		MaxSteps:      cfg.Simulate.MaxSteps,
		SnapshotEvery: cfg.Simulate.SnapshotEvery,
		WorkGroupSize: cfg.Simulate.WorkGroupSize,
		BuildOptions:  cfg.BuildOptions,
	}
}

// Simulation describes one simulate run.
type Simulation struct {
	Bodies       []nbody.Body
	Options      nbody.Options
	Distribution string
	Seed         int64
	// TraceBodies stores every body in each trace entry.
	TraceBodies bool
	ResumedFrom string
	// RunID names the run and its trace; empty generates one.
	RunID string
	// Observe, when set, sees every snapshot after it is traced.
	Observe func(nbody.Snapshot)
}

// NewSimulation builds the simulate run described by cfg.
func NewSimulation(cfg *config.Config) Simulation {
	return Simulation{
		Bodies:       nbody.FromConfig(cfg.Simulate),
		Options:      SimOptions(cfg),
		Distribution: cfg.Simulate.Distribution,
		Seed:         cfg.Simulate.Seed,
		TraceBodies:  cfg.Simulate.TraceBodies,
	}
}

// Simulate steps the system on the configured device, tracing snapshots to
// <dataDir>/runs/<id>/trace.jsonl. Cancelling ctx ends the run with the
// state reached so far, which can be resumed.
func Simulate(ctx context.Context, cfg *config.Config, source, dataDir string, s Simulation) (*store.Run, error) {
	run := store.NewRun(store.KindSimulate)
	if s.RunID != "" {
		run.ID = s.RunID
	}

	err := simulate(ctx, cfg, source, dataDir, s, run)
	finish(run, err)
	return run, err
}

func simulate(ctx context.Context, cfg *config.Config, source, dataDir string, s Simulation, run *store.Run) error {
	dev, err := compute.Open(compute.NormalizeBackend(cfg.Backend), cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Release()
	run.Backend = dev.Device().Backend
	run.Device = dev.Device().Name

	sim, err := nbody.New(dev, source, s.Bodies, s.Options)
	if err != nil {
		return err
	}
	defer sim.Close()

	trace, err := store.NewTraceWriter(dataDir, run.ID)
	if err != nil {
		return err
	}
	defer trace.Close()

	result := &store.SimulationResult{
		Options:       s.Options,
		Distribution:  s.Distribution,
		Seed:          s.Seed,
		Bodies:        len(s.Bodies),
		WorkGroupSize: sim.WorkGroupSize(),
		GlobalSize:    sim.GlobalSize(),
		InitialEnergy: nbody.ComputeEnergy(s.Bodies, s.Options.Gravity),
		ResumedFrom:   s.ResumedFrom,
	}
	run.Simulation = result

	slog.Info("Starting simulation", "id", run.ID, "bodies", result.Bodies, "maxSteps", s.Options.MaxSteps, "trace", trace.Path())

	stepErr := sim.Start(ctx, func(snap nbody.Snapshot) error {
		if err := trace.Write(store.EntryFromSnapshot(snap, s.TraceBodies)); err != nil {
			return err
		}
		if s.Observe != nil {
			s.Observe(snap)
		}
		return nil
	})

	final, err := sim.Snapshot()
	if err != nil {
		return errors.Join(stepErr, err)
	}
	result.Steps = final.Step
	result.SimTime = final.SimTime
	result.Elapsed = final.Elapsed
	result.StepsPerSec = final.StepsPerSec
	result.FinalEnergy = final.Energy
	result.FinalBodies = final.Bodies

	if err := trace.Flush(); err != nil {
		return errors.Join(stepErr, err)
	}
	return stepErr
}

// Resume continues the simulation of stored run id from its final bodies,
// reusing its physics options. MaxSteps, SnapshotEvery and tracing come from
// cfg; only RunID and Observe of s are used.
func Resume(ctx context.Context, cfg *config.Config, source, dataDir string, st store.Store, id string, s Simulation) (*store.Run, error) {
	prev, err := st.LoadRun(id)
	if err != nil {
		return nil, err
	}
	if err := prev.Resumable(); err != nil {
		return nil, err
	}

	opts := prev.Simulation.Options
	opts.MaxSteps = cfg.Simulate.MaxSteps
	opts.SnapshotEvery = cfg.Simulate.SnapshotEvery
	opts.BuildOptions = cfg.BuildOptions
	if cfg.Simulate.WorkGroupSize > 0 {
		opts.WorkGroupSize = cfg.Simulate.WorkGroupSize
	}

	slog.Info("Resuming simulation", "from", id, "bodies", len(prev.Simulation.FinalBodies), "steps", prev.Simulation.Steps)

	return Simulate(ctx, cfg, source, dataDir, Simulation{
		Bodies:       prev.Simulation.FinalBodies,
		Options:      opts,
		Distribution: prev.Simulation.Distribution,
		Seed:         prev.Simulation.Seed,
		TraceBodies:  cfg.Simulate.TraceBodies,
		ResumedFrom:  id,
		RunID:        s.RunID,
		Observe:      s.Observe,
	})
}

// Tune searches for the fastest work-group size of the configured system.
func Tune(ctx context.Context, cfg *config.Config, source string) (*store.Run, error) {
	run := store.NewRun(store.KindTune)

	err := func() error {
		dev, err := compute.Open(compute.NormalizeBackend(cfg.Backend), cfg.Device)
		if err != nil {
			return fmt.Errorf("failed to open device: %w", err)
		}
		defer dev.Release()
		run.Backend = dev.Device().Backend
		run.Device = dev.Device().Name

		opts := SimOptions(cfg)
		opts.WorkGroupSize = 0
		sim, err := nbody.New(dev, source, nbody.FromConfig(cfg.Simulate), opts)
		if err != nil {
			return err
		}
		defer sim.Close()

		run.Tune, err = tune.New(sim, tune.Options{
			Iterations:   cfg.Tune.Iterations,
			PopSize:      cfg.Tune.PopSize,
			StepsPerEval: cfg.Tune.StepsPerEval,
			Seed:         cfg.Tune.Seed,
		}).Run(ctx)
		return err
	}()

	finish(run, err)
	return run, err
}
