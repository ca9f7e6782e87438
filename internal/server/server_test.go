package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/storage"
)

type fakeBackend struct {
	snapshot []byte
	snapErr  error
	pingErr  error
	result   netstats.Result
	cycleErr error
	cycles   int
}

func (f *fakeBackend) Snapshot(context.Context) ([]byte, error) { return f.snapshot, f.snapErr }
func (f *fakeBackend) Ping(context.Context) error               { return f.pingErr }
func (f *fakeBackend) RunCycle(context.Context) (netstats.Result, error) {
	f.cycles++
	return f.result, f.cycleErr
}

type fakeLogs struct {
	entries []storage.LogEntry
	limit   int
}

func (f *fakeLogs) Recent(_ context.Context, limit int) ([]storage.LogEntry, error) {
	f.limit = limit
	return f.entries, nil
}

type fakeAverages struct {
	avg *netstats.PeriodAverages
	err error
}

func (f fakeAverages) ComputeAverages(context.Context) (*netstats.PeriodAverages, error) {
	return f.avg, f.err
}

func newTestServer(b *fakeBackend, logs *fakeLogs, avg fakeAverages) *Server {
	s := New(Options{CORSOrigins: []string{"https://tool.qubic.site"}}, b, logs, avg,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		zerolog.Nop())
	s.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }
	return s
}

func do(t *testing.T, s *Server, method, path string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeBackend{}, &fakeLogs{}, fakeAverages{}), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", rec.Code, body)
	}
}

func TestToolWrapsSnapshot(t *testing.T) {
	b := &fakeBackend{snapshot: []byte(`{"currentEpoch":150}`)}
	rec, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodGet, "/api/qubic/tool", nil)
	if rec.Code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	data := body["data"].(map[string]any)
	if data["currentEpoch"].(float64) != 150 {
		t.Fatalf("snapshot not embedded: %v", data)
	}
	if body["timestamp"].(float64) != 1700000000.5 {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
}

func TestToolStoreUnavailable(t *testing.T) {
	b := &fakeBackend{snapErr: storage.ErrUnavailable}
	rec, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodGet, "/api/qubic/tool", nil)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "error" {
		t.Fatalf("expected 503 error envelope, got %d %v", rec.Code, body)
	}
}

func TestUpdatePingsFirst(t *testing.T) {
	b := &fakeBackend{pingErr: storage.ErrUnavailable}
	rec, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodPost, "/api/network-stats/update", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.HasPrefix(body["message"].(string), "Database connection failed") {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	if b.cycles != 0 {
		t.Fatal("cycle must not run when the store is down")
	}
}

func TestUpdateReportsOutcome(t *testing.T) {
	b := &fakeBackend{result: netstats.Result{Outcome: netstats.OutcomeSkipped, Reason: "Only 3 minutes since last record"}}
	rec, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodPost, "/api/network-stats/update", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("guard skip is not an error, got %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	if data["outcome"] != "skipped" || data["reason"] != "Only 3 minutes since last record" {
		t.Fatalf("unexpected data %v", data)
	}
	if data["kind"] != "guard_skip" || data["message"] != "Network stats not updated" {
		t.Fatalf("skip should be labelled, got %v", data)
	}
}

func TestUpdateLabelsRejection(t *testing.T) {
	b := &fakeBackend{result: netstats.Result{
		Outcome:    netstats.OutcomeRejected,
		Reason:     "abnormal hashrate values",
		Readings:   netstats.Readings{QLI: 100},
		Validation: map[string]bool{"qli": true, "apool": false, "solutions": false, "minerlab": false},
	}}
	rec, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodPost, "/api/network-stats/update", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rejection is not an error, got %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	if data["kind"] != "validation_failure" {
		t.Fatalf("expected validation_failure kind, got %v", data)
	}
	results := data["validation_results"].(map[string]any)
	if results["apool"] != false || results["qli"] != true {
		t.Fatalf("unexpected validation results %v", results)
	}
}

func TestUpdateCommittedHasNoKind(t *testing.T) {
	b := &fakeBackend{result: netstats.Result{Outcome: netstats.OutcomeCommitted, Validation: map[string]bool{"qli": true}}}
	_, body := do(t, newTestServer(b, &fakeLogs{}, fakeAverages{}), http.MethodPost, "/api/network-stats/update", nil)
	data := body["data"].(map[string]any)
	if _, ok := data["kind"]; ok || data["message"] != "Network stats updated successfully" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestLogsDefaultsAndFormatting(t *testing.T) {
	ts := time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC)
	logs := &fakeLogs{entries: []storage.LogEntry{{
		Timestamp:   ts,
		PeriodStart: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
		EventType:   storage.EventSkip,
		Message:     "Mining is idle",
	}}}
	s := newTestServer(&fakeBackend{}, logs, fakeAverages{})

	rec, body := do(t, s, http.MethodGet, "/api/network-stats/logs", nil)
	if rec.Code != http.StatusOK || logs.limit != DefaultLogLimit {
		t.Fatalf("unexpected response %d, limit %d", rec.Code, logs.limit)
	}
	entry := body["data"].([]any)[0].(map[string]any)
	if entry["timestamp"] != "2024-01-11T08:00:00Z" || entry["event_type"] != "skip" {
		t.Fatalf("unexpected entry %v", entry)
	}

	if rec, _ := do(t, s, http.MethodGet, "/api/network-stats/logs?limit=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit should be rejected, got %d", rec.Code)
	}
	do(t, s, http.MethodGet, "/api/network-stats/logs?limit=5000", nil)
	if logs.limit != maxLogLimit {
		t.Fatalf("limit should be capped, got %d", logs.limit)
	}
}

func TestAveragesEmptyPeriod(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeBackend{}, &fakeLogs{}, fakeAverages{}), http.MethodGet, "/api/network-stats/averages", nil)
	if rec.Code != http.StatusOK || body["data"] != nil {
		t.Fatalf("empty period should return null data, got %d %v", rec.Code, body)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(&fakeBackend{}, &fakeLogs{}, fakeAverages{})

	rec, _ := do(t, s, http.MethodOptions, "/api/qubic/tool", map[string]string{"Origin": "https://tool.qubic.site"})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://tool.qubic.site" {
		t.Fatalf("preflight failed: %d %v", rec.Code, rec.Header())
	}

	rec, _ = do(t, s, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
}

func TestMetricsRoute(t *testing.T) {
	rec, _ := do(t, newTestServer(&fakeBackend{}, &fakeLogs{}, fakeAverages{}), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "metrics" {
		t.Fatalf("metrics handler not mounted: %d %q", rec.Code, rec.Body.String())
	}
}
