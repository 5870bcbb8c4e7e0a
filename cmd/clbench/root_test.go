package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/clbench/internal/config"
)

func TestRootCommand_ConfigAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clbench.yaml")

	fileCfg := config.Default()
	fileCfg.DataDir = filepath.Join(dir, "from-file")
	fileCfg.Simulate.Bodies = 77
	if err := config.Save(path, fileCfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	original := cfg
	defer func() {
		cfg = original
		configPath, dataDir, storeKind = "", config.DefaultDataDir, config.DefaultStore
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"version", "--config", path, "--store", "badger", "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if cfg.DataDir != fileCfg.DataDir {
		t.Errorf("DataDir = %s, want value from file", cfg.DataDir)
	}
	if cfg.Simulate.Bodies != 77 {
		t.Errorf("Bodies = %d, want 77", cfg.Simulate.Bodies)
	}
	if cfg.Store != "badger" {
		t.Errorf("Store = %s, want flag override badger", cfg.Store)
	}
}

func TestRootCommand_InvalidStore(t *testing.T) {
	original := cfg
	defer func() {
		cfg = original
		storeKind = config.DefaultStore
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"version", "--store", "sqlite", "--log-level", "error"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("Expected validation error for unknown store")
	}
}

func TestRootCommand_MissingConfig(t *testing.T) {
	original := cfg
	defer func() {
		cfg = original
		configPath = ""
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"version", "--config", filepath.Join(os.TempDir(), "does-not-exist.yaml")})
	if err := rootCmd.Execute(); err == nil {
		t.Error("Expected error for missing config file")
	}
}
