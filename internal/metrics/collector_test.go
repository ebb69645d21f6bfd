package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordRequest("GET", 200, 12)
	m.RecordRequest("GET", 200, 30)
	m.RecordRequest("POST", 0, 5)
	m.RecordCacheLookup("hit")
	m.RecordRetry("GET")
	m.RecordDedupShared()
	m.RecordEndpointResolution("default", true)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("requests_total{GET,200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "0")); got != 1 {
		t.Errorf("requests_total{POST,0} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache_lookups_total{hit} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DedupSharedTotal); got != 1 {
		t.Errorf("dedup_shared_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EndpointResolutionsTotal.WithLabelValues("default", "fallback")); got != 1 {
		t.Errorf("endpoint_resolutions_total = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", 500, 1)
	m.RecordCacheLookup("miss")
	m.RecordRetry("GET")
	m.RecordDedupShared()
	m.RecordEndpointResolution("residency", false)
}
