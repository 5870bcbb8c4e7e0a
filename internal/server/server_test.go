package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/config"
	"github.com/cwbudde/clbench/internal/store"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	s := NewServer(cfg, st, compute.EmbeddedKernelSource())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ts
}

func postRun(t *testing.T, ts *httptest.Server, config JobConfig) (*http.Response, Job) {
	t.Helper()

	body, _ := json.Marshal(config)
	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp, job
}

// waitForState polls the status endpoint until the run reaches a final state.
func waitForState(t *testing.T, ts *httptest.Server, id string) StatusResponse {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/v1/runs/" + id + "/status")
		if err != nil {
			t.Fatalf("GET status failed: %v", err)
		}
		var status StatusResponse
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status.State.Finished() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Run %s did not finish", id)
	return StatusResponse{}
}

func TestServer_CreateRun(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, job := postRun(t, ts, JobConfig{Kind: store.KindSimulate, Steps: 10})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	status := waitForState(t, ts, job.ID)
	if status.State != StateCompleted {
		t.Errorf("Expected completed, got %s (%s)", status.State, status.Error)
	}
	if status.Step != 10 {
		t.Errorf("Step = %d, want 10", status.Step)
	}
}

func TestServer_CreateRun_Invalid(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"missing kind", `{"bodies": 10}`},
		{"unknown kind", `{"kind": "render"}`},
		{"resume on bench", `{"kind": "bench", "resumeFrom": "abc"}`},
		{"bad distribution", `{"kind": "simulate", "distribution": "spiral"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServer_ListAndGetRuns(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	_, job := postRun(t, ts, JobConfig{Kind: store.KindBench})
	waitForState(t, ts, job.ID)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	if err != nil {
		t.Fatal(err)
	}
	var list RunList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	resp.Body.Close()

	if len(list.Jobs) != 1 || len(list.Runs) != 1 {
		t.Fatalf("Expected 1 job and 1 stored run, got %d/%d", len(list.Jobs), len(list.Runs))
	}
	if list.Runs[0].ID != job.ID {
		t.Errorf("Stored run ID = %s, want %s", list.Runs[0].ID, job.ID)
	}

	resp, err = http.Get(ts.URL + "/api/v1/runs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	var run store.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	resp.Body.Close()

	if run.Kind != store.KindBench || run.Bench == nil {
		t.Errorf("Unexpected run: %+v", run)
	}
}

func TestServer_GetRun_NotFound(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	for _, path := range []string{"/api/v1/runs/nonexistent", "/api/v1/runs/nonexistent/status", "/api/v1/runs/nonexistent/stream"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestServer_StatusOfStoredRun(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))

	run := store.NewRun(store.KindTune)
	run.Tune = &store.TuneResult{Bodies: 64, BestWorkGroupSize: 64}
	if err := s.store.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/runs/" + run.ID + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status StatusResponse
	json.NewDecoder(resp.Body).Decode(&status)
	if status.State != StateCompleted || !strings.Contains(status.Summary, "best work-group 64") {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestServer_CancelRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulate.MaxSteps = 0
	_, ts := newTestServer(t, cfg)

	// Unbounded run; only cancellation stops it
	_, job := postRun(t, ts, JobConfig{Kind: store.KindSimulate})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/runs/"+job.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}

	status := waitForState(t, ts, job.ID)
	if status.State != StateCancelled {
		t.Errorf("Expected cancelled, got %s", status.State)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Second cancel: expected status 409, got %d", resp.StatusCode)
	}
}

func TestServer_RunStream_SSE(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	_, job := postRun(t, ts, JobConfig{Kind: store.KindSimulate, Steps: 50, SnapshotEvery: 10})

	resp, err := http.Get(ts.URL + "/api/v1/runs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream content type, got %q", ct)
	}

	// The handler returns after the terminal event, ending the body.
	var events []ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Invalid event %q: %v", line, err)
		}
		events = append(events, event)
	}

	if len(events) == 0 {
		t.Fatal("Expected SSE events")
	}
	last := events[len(events)-1]
	if last.State != StateCompleted {
		t.Errorf("Last event state = %s, want completed", last.State)
	}
	if last.JobID != job.ID || last.Kind != store.KindSimulate {
		t.Errorf("Unexpected last event: %+v", last)
	}
}

func TestServer_Devices(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var platforms []compute.PlatformInfo
	if err := json.NewDecoder(resp.Body).Decode(&platforms); err != nil {
		t.Fatal(err)
	}
	if len(platforms) == 0 || platforms[0].Backend != compute.BackendHost {
		t.Errorf("Expected the host platform first, got %+v", platforms)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateRunning, Step: 10, Timestamp: time.Now()})

	select {
	case received := <-ch:
		if received.JobID != "job1" || received.Step != 10 {
			t.Errorf("Unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	// Late subscribers get the last event replayed
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Step != 10 {
			t.Errorf("Replayed step = %d, want 10", received.Step)
		}
	case <-time.After(time.Second):
		t.Fatal("Last event was not replayed")
	}
	eb.Unsubscribe("job1", late)

	eb.CleanupJob("job1")
}

func TestEventBroadcaster_TerminalEventNotDropped(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	for i := range cap(ch) + 5 {
		eb.Broadcast(ProgressEvent{JobID: "job1", State: StateRunning, Step: i})
	}
	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateCompleted})

	var last ProgressEvent
	for len(ch) > 0 {
		last = <-ch
	}
	if last.State != StateCompleted {
		t.Errorf("Last queued state = %s, want completed", last.State)
	}
}

func TestEventBroadcaster_DropsFinishedTopics(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateRunning, Step: 1})
	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateCompleted})
	eb.Unsubscribe("job1", ch)

	// Terminal event without subscribers
	eb.Broadcast(ProgressEvent{JobID: "job2", State: StateCancelled})

	// Running job keeps its last event for late subscribers
	eb.Broadcast(ProgressEvent{JobID: "job3", State: StateRunning, Step: 4})

	eb.mu.Lock()
	_, has1 := eb.topics["job1"]
	_, has2 := eb.topics["job2"]
	_, has3 := eb.topics["job3"]
	eb.mu.Unlock()
	if has1 || has2 {
		t.Error("Finished jobs without subscribers should be forgotten")
	}
	if !has3 {
		t.Error("Running job should keep its topic")
	}
}

func TestEventBroadcaster_CleanupClosesSubscribers(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job1")

	eb.CleanupJob("job1")
	if _, ok := <-ch; ok {
		t.Error("Subscriber channel should be closed")
	}
	// Unsubscribe after cleanup must not close twice
	eb.Unsubscribe("job1", ch)
}

func TestServer_ShutdownEndsStreams(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulate.MaxSteps = 0
	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(cfg, st, compute.EmbeddedKernelSource())
	job := srv.submit(JobConfig{Kind: store.KindSimulate})
	events := srv.jobManager.broadcaster.Subscribe(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Drain to the close
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if _, err := st.LoadRun(job.ID); err != nil {
					t.Errorf("Run not saved before shutdown returned: %v", err)
				}
				return
			}
		case <-timeout:
			t.Fatal("Stream channel not closed by shutdown")
		}
	}
}
