package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/report"
)

var (
	compileBackend string
	compileDevice  int
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List platforms and devices of every available backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		var platforms []compute.PlatformInfo
		for _, b := range compute.SupportedBackends() {
			ps, err := compute.Platforms(b)
			if err != nil {
				slog.Warn("Backend unavailable", "backend", b, "error", err)
				continue
			}
			platforms = append(platforms, ps...)
		}
		report.Devices(os.Stdout, platforms)
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Build the kernel source and report its kernels",
	Long: `Builds the configured kernel source on one device and prints, for every
kernel entry point, its argument count and work-group limits. A failed build
prints the build log.`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileBackend, "backend", "", "Compute backend (host, opencl)")
	compileCmd.Flags().IntVar(&compileDevice, "device", -1, "Device index (-1 = preferred)")
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	if compileBackend != "" {
		cfg.Backend = compileBackend
	}
	if cmd.Flags().Changed("device") {
		cfg.Device = compileDevice
	}

	source, err := kernelSource()
	if err != nil {
		return err
	}

	dev, err := compute.Open(compute.NormalizeBackend(cfg.Backend), cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Release()

	fmt.Printf("Device: %s\n", report.Device(dev.Device()))

	prog, err := dev.BuildProgram(source, cfg.BuildOptions)
	if err != nil {
		var clErr *compute.Error
		if errors.As(err, &clErr) && clErr.Detail != "" {
			fmt.Fprintf(os.Stderr, "Build log:\n%s\n", clErr.Detail)
		}
		return fmt.Errorf("build failed: %w", err)
	}
	defer prog.Release()

	if log := prog.BuildLog(); log != "" {
		fmt.Printf("Build log:\n%s\n", log)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KERNEL\tARGS\tMAX WORK-GROUP\tMULTIPLE\tHEURISTIC")
	for _, name := range compute.KernelNames(source) {
		k, err := prog.CreateKernel(name)
		if err != nil {
			return err
		}
		info, err := k.WorkGroupInfo()
		args := k.NumArgs()
		k.Release()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			name, args, info.MaxSize, info.PreferredMultiple, compute.WorkGroupSize(info))
	}
	return w.Flush()
}
