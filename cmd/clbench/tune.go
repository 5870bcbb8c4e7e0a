package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/report"
	"github.com/cwbudde/clbench/internal/runner"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Search the fastest work-group size for the n-body kernel",
	Long: `Times the n-body step at candidate work-group sizes, multiples of the
device's preferred multiple, and reports the fastest. Small candidate spaces
are searched exhaustively; larger ones with the Mayfly optimizer.`,
	RunE: runTune,
}

var (
	tuneIterations int
	tunePopSize    int
	tuneSteps      int
)

func init() {
	addSimFlags(tuneCmd)
	tuneCmd.Flags().IntVar(&simBodies, "bodies", 0, "Number of bodies (0 = config)")
	tuneCmd.Flags().IntVar(&tuneIterations, "iters", 0, "Optimizer iterations (0 = config)")
	tuneCmd.Flags().IntVar(&tunePopSize, "pop", 0, "Optimizer population size (0 = config)")
	tuneCmd.Flags().IntVar(&tuneSteps, "steps-per-eval", 0, "Steps timed per candidate (0 = config)")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	if tuneIterations > 0 {
		cfg.Tune.Iterations = tuneIterations
	}
	if tunePopSize > 0 {
		cfg.Tune.PopSize = tunePopSize
	}
	if tuneSteps > 0 {
		cfg.Tune.StepsPerEval = tuneSteps
	}
	if err := applySimFlags(cmd); err != nil {
		return err
	}

	source, err := kernelSource()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run, err := runner.Tune(ctx, cfg, source)
	if run.Tune != nil {
		report.Tune(os.Stdout, run.Tune)
	}
	return saveRun(run, err)
}
