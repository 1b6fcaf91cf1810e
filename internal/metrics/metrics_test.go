package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveCacheRead(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheRead("calllog", CacheHit)
	rec.ObserveCacheRead("calllog", CacheHit)
	rec.ObserveCacheRead("calllog", CacheMiss)
	rec.ObserveCacheRead("messaging", CacheBypass)

	families := gather(t, rec, "opsdeck_cache_reads_total")

	hit := findMetric(t, families["opsdeck_cache_reads_total"], map[string]string{
		"service": "calllog",
		"outcome": string(CacheHit),
	})
	if got := hit.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected hit counter 2, got %v", got)
	}

	bypass := findMetric(t, families["opsdeck_cache_reads_total"], map[string]string{
		"service": "messaging",
		"outcome": string(CacheBypass),
	})
	if got := bypass.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected bypass counter 1, got %v", got)
	}
}

func TestRecorderObserveStore(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveStore("status", "upsert", StoreOK, 40*time.Millisecond)

	families := gather(t, rec, "opsdeck_store_operation_duration_seconds")

	metric := findMetric(t, families["opsdeck_store_operation_duration_seconds"], map[string]string{
		"service":   "status",
		"operation": "upsert",
		"result":    string(StoreOK),
	})
	hist := metric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for store latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.04
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveHistory(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveHistory(false)
	rec.ObserveHistory(true)
	rec.ObserveHistory(true)

	families := gather(t, rec, "opsdeck_status_history_reads_total")

	ok := findMetric(t, families["opsdeck_status_history_reads_total"], map[string]string{"result": "ok"})
	if got := ok.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected ok counter 1, got %v", got)
	}
	degraded := findMetric(t, families["opsdeck_status_history_reads_total"], map[string]string{"result": "degraded"})
	if got := degraded.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected degraded counter 2, got %v", got)
	}
}

func TestRecorderNormalizesEmptyLabels(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheRead("  ", "")

	families := gather(t, rec, "opsdeck_cache_reads_total")
	metric := findMetric(t, families["opsdeck_cache_reads_total"], map[string]string{
		"service": "unknown",
		"outcome": string(CacheMiss),
	})
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected normalized counter 1, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveCacheRead("calllog", CacheHit)
	rec.ObserveStore("status", "get", StoreOK, time.Millisecond)
	rec.ObserveHistory(true)

	recorder := httptest.NewRecorder()
	rec.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 503 {
		t.Fatalf("nil recorder handler status = %d, want 503", recorder.Code)
	}
	if rec.Gatherer() == nil {
		t.Fatalf("nil recorder gatherer must not be nil")
	}
}

func TestRecorderHandlerServesMetrics(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheRead("calllog", CacheHit)

	recorder := httptest.NewRecorder()
	rec.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 200 {
		t.Fatalf("metrics handler status = %d", recorder.Code)
	}
	if recorder.Body.Len() == 0 {
		t.Fatalf("expected exposition output")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
