package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

var (
	configPath string
	logLevel   string
	dataDir    string
	storeKind  string
	waitForKey bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clbench",
	Short: "Compute device benchmarks and an n-body stepper",
	Long: `clbench times an elementwise add kernel on the host and on compute
devices, and steps a gravitational n-body system on a device with
double-buffered state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		slog.SetDefault(slog.New(handler))

		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if waitForKey {
			fmt.Print("Press Enter to continue...")
			bufio.NewReader(os.Stdin).ReadString('\n')
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDataDir, "Base directory for stored runs and traces")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", config.DefaultStore, "Run store (fs, badger)")
	rootCmd.PersistentFlags().BoolVar(&waitForKey, "wait", false, "Wait for Enter before exiting")
}

// loadConfig reads --config when given and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if configPath != "" {
		var err error
		c, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("data-dir") {
		c.DataDir = dataDir
	}
	if flags.Changed("store") {
		c.Store = storeKind
	}
	return c, nil
}

func kernelSource() (string, error) {
	return compute.LoadKernelSource(cfg.KernelPath)
}

func openStore() (store.Store, error) {
	st, err := store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return st, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// saveRun persists run even when err is set, and returns err.
func saveRun(run *store.Run, err error) error {
	if run == nil {
		return err
	}
	st, openErr := openStore()
	if openErr != nil {
		return errors.Join(err, openErr)
	}
	defer st.Close()

	if saveErr := st.SaveRun(run); saveErr != nil {
		return errors.Join(err, fmt.Errorf("failed to save run: %w", saveErr))
	}
	slog.Info("Saved run", "id", run.ID, "kind", run.Kind, "status", run.Status)
	return err
}
