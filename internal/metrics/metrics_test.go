package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestRecordPublishCounts(t *testing.T) {
	m := &Metrics{}
	m.MinIterationMs.Store(int64(^uint64(0) >> 1))

	m.RecordPublish("keywords", "feed", 3, true)
	m.RecordPublish("keywords", "feed", 0, false)

	if m.TotalPublishes.Load() != 2 {
		t.Fatalf("total = %d, want 2", m.TotalPublishes.Load())
	}
	if m.SuccessPublishes.Load() != 1 || m.FailedPublishes.Load() != 1 {
		t.Fatalf("ok/failed = %d/%d", m.SuccessPublishes.Load(), m.FailedPublishes.Load())
	}
	if m.Deliveries.Load() != 3 {
		t.Fatalf("deliveries = %d, want 3", m.Deliveries.Load())
	}
	if m.GetModuleMetrics("feed").Publishes.Load() != 2 {
		t.Fatal("per-module publish count not tracked")
	}
}

func TestRecordIterationTracksLatency(t *testing.T) {
	m := &Metrics{}
	m.MinIterationMs.Store(int64(^uint64(0) >> 1))

	m.RecordIteration("monitor", "reactive", 10, true)
	m.RecordIteration("monitor", "reactive", 30, false)

	mm := m.GetModuleMetrics("monitor")
	if mm == nil {
		t.Fatal("no module metrics recorded")
	}
	if mm.Iterations.Load() != 2 || mm.Successes.Load() != 1 || mm.Failures.Load() != 1 {
		t.Fatalf("iteration counts = %d/%d/%d", mm.Iterations.Load(), mm.Successes.Load(), mm.Failures.Load())
	}
	if mm.MinMs.Load() != 10 || mm.MaxMs.Load() != 30 {
		t.Fatalf("min/max = %d/%d, want 10/30", mm.MinMs.Load(), mm.MaxMs.Load())
	}
}

func TestSnapshotInvariants(t *testing.T) {
	m := &Metrics{}
	m.MinIterationMs.Store(int64(^uint64(0) >> 1))

	m.RecordPublish("t", "m", 1, true)
	m.RecordPublish("t", "m", 0, false)
	m.RecordTranslation("string", "int", true)
	m.RecordTranslation("string", "widget", false)

	snap := m.Snapshot()
	bus := snap["bus"].(map[string]interface{})
	if bus["publishes_total"].(int64) != bus["publishes_ok"].(int64)+bus["publishes_failed"].(int64) {
		t.Fatalf("publish counts do not add up: %+v", bus)
	}
	tr := snap["translation"].(map[string]interface{})
	if tr["total"].(int64) != 2 || tr["failed"].(int64) != 1 {
		t.Fatalf("translation counts: %+v", tr)
	}
}

func TestJSONHandler(t *testing.T) {
	m := &Metrics{}
	m.MinIterationMs.Store(int64(^uint64(0) >> 1))
	m.RecordIteration("monitor", "reactive", 5, true)

	rec := httptest.NewRecorder()
	m.JSONHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics.json", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	stats, ok := body["module_stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("no module_stats in %v", body)
	}
	if _, ok := stats["monitor"]; !ok {
		t.Fatalf("monitor stats missing: %v", stats)
	}
}
