package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/flojobs/internal/config"
	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/metrics"
	"github.com/rzbill/flojobs/internal/runtime"
	logpkg "github.com/rzbill/flojobs/pkg/log"
)

func newTestServer(t *testing.T) (*runtime.Runtime, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Pebble.DataDir = t.TempDir()
	cfg.Storage.Pebble.Fsync = "never"
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg, Metrics: metrics.NewCollector(nil)})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return rt, New(rt, logger).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func enqueue(t *testing.T, rt *runtime.Runtime, queue string) string {
	t.Helper()
	ctx := context.Background()
	conn := rt.Connection()
	id, err := conn.CreateExpiredJob(ctx, job.InvocationData{Type: "Mailer", Method: "Send"},
		map[string]string{"Culture": "en-US"}, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	tx := conn.CreateWriteTransaction()
	tx.SetJobState(id, job.StateData{Name: "Enqueued", Reason: "test"})
	tx.AddToQueue(queue, id)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestHealthHandler(t *testing.T) {
	rt, h := newTestServer(t)
	w := get(t, h, "/v1/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["instanceId"] != rt.Meta().InstanceID {
		t.Fatalf("unexpected body: %v", body)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("cors header missing")
	}
}

func TestHealthAfterClose(t *testing.T) {
	rt, h := newTestServer(t)
	_ = rt.Close()
	if w := get(t, h, "/v1/healthz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestQueuesAndJobs(t *testing.T) {
	rt, h := newTestServer(t)
	id := enqueue(t, rt, "default")
	enqueue(t, rt, "default")
	enqueue(t, rt, "mail")

	w := get(t, h, "/v1/queues")
	if w.Code != http.StatusOK {
		t.Fatalf("queues status: %d", w.Code)
	}
	var queues struct {
		Queues []struct {
			Name     string `json:"name"`
			Enqueued int64  `json:"enqueued"`
		} `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &queues); err != nil {
		t.Fatalf("decode queues: %v", err)
	}
	if len(queues.Queues) != 2 || queues.Queues[0].Name != "default" || queues.Queues[0].Enqueued != 2 {
		t.Fatalf("unexpected queues: %+v", queues)
	}

	w = get(t, h, "/v1/queues/default/jobs?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("queue jobs status: %d", w.Code)
	}
	var jobs struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].ID != id {
		t.Fatalf("expected oldest job first, got %+v", jobs)
	}

	w = get(t, h, "/v1/jobs/"+id)
	if w.Code != http.StatusOK {
		t.Fatalf("job status: %d", w.Code)
	}
	var resp struct {
		Method     string            `json:"method"`
		Parameters map[string]string `json:"parameters"`
		State      struct {
			Name string `json:"name"`
		} `json:"state"`
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if resp.Method != "Send" || resp.Parameters["Culture"] != "en-US" || resp.State.Name != "Enqueued" || len(resp.History) != 1 {
		t.Fatalf("unexpected job: %s", w.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	_, h := newTestServer(t)
	if w := get(t, h, "/v1/jobs/missing"); w.Code != http.StatusNotFound {
		t.Fatalf("job status: %d", w.Code)
	}
	if w := get(t, h, "/v1/servers/missing"); w.Code != http.StatusNotFound {
		t.Fatalf("server status: %d", w.Code)
	}
}

func TestBadFilter(t *testing.T) {
	_, h := newTestServer(t)
	w := get(t, h, "/v1/queues/default/jobs?filter="+url.QueryEscape("state +"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestFilterSelectsJobs(t *testing.T) {
	rt, h := newTestServer(t)
	enqueue(t, rt, "default")
	w := get(t, h, "/v1/queues/default/jobs?filter="+url.QueryEscape(`method == "Other"`))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if strings.Contains(w.Body.String(), `"id"`) {
		t.Fatalf("filter should exclude every job: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rt, h := newTestServer(t)
	enqueue(t, rt, "default")
	w := get(t, h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `flojobs_queue_enqueued_jobs{queue="default"} 1`) {
		t.Fatalf("queue depth not exported:\n%s", w.Body.String())
	}
}
