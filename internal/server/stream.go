package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/store"
)

const (
	subscriberBuffer = 16
	pingInterval     = 30 * time.Second
)

// ProgressEvent is one SSE message of a run: a benchmark measurement, a
// simulation snapshot or a state change.
type ProgressEvent struct {
	JobID       string             `json:"jobId"`
	Kind        store.Kind         `json:"kind"`
	State       JobState           `json:"state"`
	Step        int                `json:"step"`
	SimTime     float64            `json:"simTime"`
	StepsPerSec float64            `json:"stepsPerSec"`
	Energy      float64            `json:"energy"`
	Measurement *bench.Measurement `json:"measurement,omitempty"`
	Error       string             `json:"error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

func eventFromJob(job *Job) ProgressEvent {
	return ProgressEvent{
		JobID:       job.ID,
		Kind:        job.Config.Kind,
		State:       job.State,
		Step:        job.Step,
		SimTime:     job.SimTime,
		StepsPerSec: job.StepsPerSec,
		Energy:      job.Energy,
		Error:       job.Error,
		Timestamp:   time.Now(),
	}
}

// topic holds the subscribers of one job and its latest event.
type topic struct {
	subs map[chan ProgressEvent]struct{}
	last *ProgressEvent
}

// EventBroadcaster fans job events out to SSE subscribers.
type EventBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{topics: make(map[string]*topic)}
}

func (eb *EventBroadcaster) topic(jobID string) *topic {
	t, ok := eb.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan ProgressEvent]struct{})}
		eb.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel of the job's events. The latest event, if
// any, is queued first.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberBuffer)
	t := eb.topic(jobID)
	t.subs[ch] = struct{}{}
	if t.last != nil {
		ch <- *t.last
	}

	slog.Debug("SSE client subscribed", "jobID", jobID, "clients", len(t.subs))
	return ch
}

// Unsubscribe closes ch. The job's topic is dropped once it has no
// subscribers and its terminal event was sent. It is a no-op once the job
// was cleaned up.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}
	if len(t.subs) == 0 && (t.last == nil || t.last.State.Finished()) {
		delete(eb.topics, jobID)
	}
	slog.Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast delivers event without blocking. A full subscriber misses
// progress events; a terminal event evicts the oldest queued one instead.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t := eb.topic(event.JobID)
	t.last = &event

	for ch := range t.subs {
		if trySend(ch, event) {
			continue
		}
		if !event.State.Finished() {
			slog.Warn("SSE subscriber lagging, dropped event", "jobID", event.JobID, "step", event.Step)
			continue
		}
		select {
		case <-ch:
		default:
		}
		trySend(ch, event)
	}
	if event.State.Finished() && len(t.subs) == 0 {
		delete(eb.topics, event.JobID)
	}
}

func trySend(ch chan ProgressEvent, event ProgressEvent) bool {
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// CleanupJob closes every subscriber of the job and forgets its last event.
// Streams reading a closed channel end.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if t, ok := eb.topics[jobID]; ok {
		for ch := range t.subs {
			close(ch)
		}
		delete(eb.topics, jobID)
	}
}

// handleRunStream serves GET /api/v1/runs/:id/stream. The stream ends after
// the job's terminal event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	// The job may have finished before the subscription existed.
	job, _ := s.jobManager.GetJob(jobID)
	if err := writeSSEEvent(w, eventFromJob(job)); err != nil {
		slog.Error("Failed to write SSE event", "jobID", jobID, "error", err)
		return
	}
	flusher.Flush()
	if job.State.Finished() {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "jobID", jobID, "error", err)
				return
			}
			flusher.Flush()
			if event.State.Finished() {
				return
			}
		}
	}
}

// writeSSEEvent writes event as an SSE message named after its state.
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.State, data)
	return err
}
