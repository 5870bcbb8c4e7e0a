package store

import (
	"fmt"
	"path/filepath"
)

// Store defines the interface for run persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun stores a run, overwriting any run with the same ID.
	SaveRun(run *Run) error

	// LoadRun retrieves a run by ID.
	LoadRun(id string) (*Run, error)

	// ListRuns returns metadata for all stored runs, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes a run and its trace.
	DeleteRun(id string) error

	// Close releases the underlying resources.
	Close() error
}

const (
	KindFS     = "fs"
	KindBadger = "badger"
)

// Open creates the store of the given kind rooted at dataDir.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "", KindFS:
		return NewFSStore(dataDir)
	case KindBadger:
		return NewBadgerStore(dataDir, filepath.Join(dataDir, "badger"))
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "run not found: " + e.ID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
