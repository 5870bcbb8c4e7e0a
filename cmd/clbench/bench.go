package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/report"
	"github.com/cwbudde/clbench/internal/runner"
)

var (
	benchSize       int
	benchCycles     int
	benchPasses     int
	benchBackends   []string
	benchDevice     int
	benchAllDevices bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time the elementwise add on the host and on devices",
	Long: `Adds two constant arrays into an output array, cycles times per pass,
first with a plain host loop and then with the add kernel on each target
device. Every pass starts from a zeroed output and is verified.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchSize, "size", 0, "Array length (0 = config)")
	benchCmd.Flags().IntVar(&benchCycles, "cycles", 0, "Additions per pass (0 = config)")
	benchCmd.Flags().IntVar(&benchPasses, "passes", 0, "Timed passes per device (0 = config)")
	benchCmd.Flags().StringSliceVar(&benchBackends, "backend", nil, "Backends to benchmark (host, opencl)")
	benchCmd.Flags().IntVar(&benchDevice, "device", -1, "Device index (-1 = preferred)")
	benchCmd.Flags().BoolVar(&benchAllDevices, "all-devices", false, "Benchmark every device of each backend")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchSize > 0 {
		cfg.Bench.Size = benchSize
	}
	if benchCycles > 0 {
		cfg.Bench.Cycles = benchCycles
	}
	if benchPasses > 0 {
		cfg.Bench.Passes = benchPasses
	}
	if len(benchBackends) > 0 {
		cfg.Bench.Backends = benchBackends
	}
	if cmd.Flags().Changed("device") {
		cfg.Device = benchDevice
	}
	if benchAllDevices {
		cfg.Bench.AllDevices = true
	}

	source, err := kernelSource()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run, err := runner.Bench(ctx, cfg, source, func(m bench.Measurement) {
		fmt.Println(report.Measurement(m))
	})
	if run.Bench != nil {
		fmt.Println()
		report.Bench(os.Stdout, run.Bench)
	}
	return saveRun(run, err)
}
