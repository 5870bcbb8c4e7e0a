package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

func useTempConfig(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	original := cfg
	cfg = config.Default()
	cfg.DataDir = tmpDir
	t.Cleanup(func() { cfg = original })
	return tmpDir
}

func saveTuneRun(t *testing.T, dir string, age time.Duration) *store.Run {
	t.Helper()

	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	run := store.NewRun(store.KindTune)
	run.Timestamp = time.Now().Add(-age)
	run.Tune = &store.TuneResult{Bodies: 256, HeuristicSize: 256, BestWorkGroupSize: 128}
	if err := st.SaveRun(run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	return run
}

func TestSelectRunsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{ID: "run1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{ID: "run2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{ID: "run3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{ID: "run4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}

	toDelete := selectRunsForDeletion(infos, 0, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	if toDelete[0].ID != "run1" || toDelete[1].ID != "run4" {
		t.Errorf("Expected run1 and run4, got %s and %s", toDelete[0].ID, toDelete[1].ID)
	}
}

func TestSelectRunsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{ID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{ID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{ID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{ID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectRunsForDeletion(infos, 2, 0, now)

	// The two oldest, newest first
	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	if toDelete[0].ID != "run1" || toDelete[1].ID != "run4" {
		t.Errorf("Expected run1 and run4, got %s and %s", toDelete[0].ID, toDelete[1].ID)
	}
}

func TestSelectRunsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{ID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{ID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{ID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{ID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{ID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Both rules select run1 and run4; neither is listed twice
	toDelete := selectRunsForDeletion(infos, 3, 7, now)
	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete, got %d", len(toDelete))
	}

	toDelete = selectRunsForDeletion(infos, 1, 7, now)
	if len(toDelete) != 4 {
		t.Errorf("Expected 4 runs to delete, got %d", len(toDelete))
	}
}

func TestSelectRunsForDeletion_Disabled(t *testing.T) {
	infos := []store.RunInfo{{ID: "run1", Timestamp: time.Now().AddDate(-1, 0, 0)}}

	if toDelete := selectRunsForDeletion(infos, 0, 0, time.Now()); len(toDelete) != 0 {
		t.Errorf("Expected nothing to delete, got %d", len(toDelete))
	}
	if toDelete := selectRunsForDeletion(infos, 5, 0, time.Now()); len(toDelete) != 0 {
		t.Errorf("Expected nothing to delete with fewer runs than keep-last, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "more.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size != int64(2*len(content)) {
		t.Errorf("Expected size %d, got %d", 2*len(content), size)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(abc) = %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("shortID = %s", got)
	}
}

func TestRunsListCommand_NoRuns(t *testing.T) {
	useTempConfig(t)

	if err := runListRuns(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRunsListCommand_WithRuns(t *testing.T) {
	dir := useTempConfig(t)
	saveTuneRun(t, dir, 0)

	if err := runListRuns(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRunsShowCommand(t *testing.T) {
	dir := useTempConfig(t)
	run := saveTuneRun(t, dir, 0)

	if err := runShowRun(nil, []string{run.ID}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runShowRun(nil, []string{"missing"}); err == nil {
		t.Error("Expected error for missing run")
	}
}

func TestRunsCleanCommand_NoFlags(t *testing.T) {
	useTempConfig(t)

	keepLast = 0
	olderThanDays = 0

	if err := runCleanRuns(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestRunsCleanCommand_WithForce(t *testing.T) {
	dir := useTempConfig(t)
	old := saveTuneRun(t, dir, 30*24*time.Hour)
	recent := saveTuneRun(t, dir, time.Hour)

	keepLast = 0
	olderThanDays = 7
	forceClean = true
	defer func() {
		olderThanDays = 0
		forceClean = false
	}()

	if err := runCleanRuns(nil, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.LoadRun(old.ID); err == nil {
		t.Error("Expected old run to be deleted")
	}
	if _, err := st.LoadRun(recent.ID); err != nil {
		t.Errorf("Expected recent run to survive, got %v", err)
	}
}
