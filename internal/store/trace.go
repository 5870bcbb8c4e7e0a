package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/clbench/internal/nbody"
)

const traceFile = "trace.jsonl"

// TraceEntry is one line of a simulate run's trace.
type TraceEntry struct {
	Step        int           `json:"step"`
	SimTime     float64       `json:"simTime"`
	Elapsed     time.Duration `json:"elapsed"`
	StepsPerSec float64       `json:"stepsPerSec"`
	Energy      nbody.Energy  `json:"energy"`
	Timestamp   time.Time     `json:"timestamp"`
	Bodies      []nbody.Body  `json:"bodies,omitempty"`
}

// EntryFromSnapshot converts a snapshot, dropping its bodies unless
// withBodies is set.
func EntryFromSnapshot(snap nbody.Snapshot, withBodies bool) TraceEntry {
	entry := TraceEntry{
		Step:        snap.Step,
		SimTime:     snap.SimTime,
		Elapsed:     snap.Elapsed,
		StepsPerSec: snap.StepsPerSec,
		Energy:      snap.Energy,
		Timestamp:   time.Now(),
	}
	if withBodies {
		entry.Bodies = snap.Bodies
	}
	return entry
}

// TracePath is <baseDir>/runs/<id>/trace.jsonl.
func TracePath(baseDir, id string) string {
	return filepath.Join(RunDir(baseDir, id), traceFile)
}

// TraceWriter appends entries to a run's trace. Writes are buffered until
// Flush or Close. Safe for concurrent use.
type TraceWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewTraceWriter creates or truncates the trace of run id.
func NewTraceWriter(baseDir, id string) (*TraceWriter, error) {
	if err := os.MkdirAll(RunDir(baseDir, id), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := TracePath(baseDir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}

	buf := bufio.NewWriterSize(f, 64*1024)
	return &TraceWriter{path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write buffers one entry as a JSON line.
func (w *TraceWriter) Write(entry TraceEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry %d: %w", entry.Step, err)
	}
	return nil
}

// Flush writes buffered entries through to disk.
func (w *TraceWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace: %w", err)
	}
	return w.f.Sync()
}

// Close flushes and closes the file.
func (w *TraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("failed to close trace: %w", err)
	}
	return nil
}

func (w *TraceWriter) Path() string {
	return w.path
}

// TraceReader decodes a trace line by line.
type TraceReader struct {
	f   *os.File
	dec *json.Decoder
}

// NewTraceReader opens the trace of run id. A missing trace is a
// NotFoundError.
func NewTraceReader(baseDir, id string) (*TraceReader, error) {
	f, err := os.Open(TracePath(baseDir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	return &TraceReader{f: f, dec: json.NewDecoder(bufio.NewReader(f))}, nil
}

// Read returns the next entry, or io.EOF after the last one.
func (r *TraceReader) Read() (*TraceEntry, error) {
	var entry TraceEntry
	err := r.dec.Decode(&entry)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("corrupt trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll returns every remaining entry.
func (r *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := r.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, *entry)
	}
}

func (r *TraceReader) Close() error {
	return r.f.Close()
}
