package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const runKeyPrefix = "run:"

// BadgerStore keeps runs in a Badger key-value database. Traces stay on the
// filesystem under traceDir, laid out like FSStore.
type BadgerStore struct {
	db       *badger.DB
	traceDir string
}

// NewBadgerStore opens (or creates) the database at dbDir. An empty dbDir
// keeps the database in memory.
func NewBadgerStore(traceDir, dbDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbDir).WithLogger(badgerLogger{})
	if dbDir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db, traceDir: traceDir}, nil
}

func runKey(id string) []byte {
	return []byte(runKeyPrefix + id)
}

func (bs *BadgerStore) SaveRun(run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if err := run.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	if err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	}); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	slog.Debug("Run saved", "id", run.ID, "kind", run.Kind, "store", KindBadger)
	return nil
}

func (bs *BadgerStore) LoadRun(id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	var run Run
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

func (bs *BadgerStore) ListRuns() ([]RunInfo, error) {
	infos := []RunInfo{}
	prefix := []byte(runKeyPrefix)

	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var run Run
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				slog.Warn("Failed to decode run for listing", "key", string(item.Key()), "error", err)
				continue
			}
			infos = append(infos, run.ToInfo())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sortInfos(infos)
	return infos, nil
}

func (bs *BadgerStore) DeleteRun(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			return err
		}
		return txn.Delete(runKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	if bs.traceDir != "" {
		if err := os.RemoveAll(RunDir(bs.traceDir, id)); err != nil {
			return fmt.Errorf("failed to remove run directory: %w", err)
		}
	}
	return nil
}

func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}

// badgerLogger routes Badger's log output through slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...any) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...any) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...any) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
