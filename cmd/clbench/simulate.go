package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/nbody"
	"github.com/cwbudde/clbench/internal/report"
	"github.com/cwbudde/clbench/internal/runner"
	"github.com/cwbudde/clbench/internal/store"
)

var (
	simBodies        int
	simDistribution  string
	simSeed          int64
	simSteps         int
	simSnapshotEvery int
	simWorkGroupSize int
	simBackend       string
	simDevice        int
	simFixedStep     bool
	simTraceBodies   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Step an n-body system on a device",
	Long: `Generates or loads the initial bodies, uploads them to the device and
steps the system until --steps is reached or the process is interrupted.
Snapshots with energy diagnostics are appended to the run's trace.`,
	RunE: runSimulate,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Continue a stored simulation from its final bodies",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	addSimFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&simBodies, "bodies", 0, "Number of bodies (0 = config)")
	simulateCmd.Flags().StringVar(&simDistribution, "distribution", "", "Initial distribution (cloud, disk)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed (0 = config)")
	simulateCmd.Flags().BoolVar(&simFixedStep, "fixed-step", false, "Advance simulated time by the step size instead of scaled wall-clock")

	addSimFlags(resumeCmd)

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(resumeCmd)
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&simSteps, "steps", -1, "Steps to run (0 = until interrupted, -1 = config)")
	cmd.Flags().IntVar(&simSnapshotEvery, "snapshot-every", 0, "Steps between snapshots (0 = config)")
	cmd.Flags().IntVar(&simWorkGroupSize, "work-group", 0, "Work-group size (0 = heuristic)")
	cmd.Flags().StringVar(&simBackend, "backend", "", "Compute backend (host, opencl)")
	cmd.Flags().IntVar(&simDevice, "device", -1, "Device index (-1 = preferred)")
	cmd.Flags().BoolVar(&simTraceBodies, "trace-bodies", false, "Store every body in each trace entry")
}

func applySimFlags(cmd *cobra.Command) error {
	if simBodies > 0 {
		cfg.Simulate.Bodies = simBodies
	}
	if simDistribution != "" {
		cfg.Simulate.Distribution = simDistribution
	}
	if simSeed != 0 {
		cfg.Simulate.Seed = simSeed
	}
	if simSteps >= 0 {
		cfg.Simulate.MaxSteps = simSteps
	}
	if simSnapshotEvery > 0 {
		cfg.Simulate.SnapshotEvery = simSnapshotEvery
	}
	if simWorkGroupSize > 0 {
		cfg.Simulate.WorkGroupSize = simWorkGroupSize
	}
	if simBackend != "" {
		cfg.Backend = simBackend
	}
	if cmd.Flags().Changed("device") {
		cfg.Device = simDevice
	}
	if cmd.Flags().Changed("fixed-step") {
		cfg.Simulate.FixedStep = simFixedStep
	}
	if simTraceBodies {
		cfg.Simulate.TraceBodies = true
	}
	return cfg.Validate()
}

func printSnapshot(snap nbody.Snapshot) {
	fmt.Printf("step %8d  t=%-10.4g %10.1f steps/s  E=%.6g\n",
		snap.Step, snap.SimTime, snap.StepsPerSec, snap.Energy.Total)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := applySimFlags(cmd); err != nil {
		return err
	}
	source, err := kernelSource()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	s := runner.NewSimulation(cfg)
	s.Observe = printSnapshot

	run, err := runner.Simulate(ctx, cfg, source, cfg.DataDir, s)
	return finishSimulation(run, err)
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := applySimFlags(cmd); err != nil {
		return err
	}
	source, err := kernelSource()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run, err := runner.Resume(ctx, cfg, source, cfg.DataDir, st, args[0], runner.Simulation{Observe: printSnapshot})
	// Badger holds an exclusive lock; release it before saveRun reopens.
	st.Close()
	if run == nil {
		return fmt.Errorf("failed to resume %s: %w", args[0], err)
	}
	return finishSimulation(run, err)
}

func finishSimulation(run *store.Run, err error) error {
	if run.Simulation != nil {
		fmt.Println()
		report.Simulation(os.Stdout, run.Simulation)
	}
	if run.Status == store.StatusCancelled {
		fmt.Printf("\nInterrupted. Continue with: clbench resume %s\n", run.ID)
		err = nil
	}
	return saveRun(run, err)
}
