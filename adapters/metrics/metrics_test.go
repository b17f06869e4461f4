package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/apikit/adapters/metrics"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.SessionRequests == nil {
		t.Error("SessionRequests is nil")
	}
	if m.SessionDuration == nil {
		t.Error("SessionDuration is nil")
	}
	if m.CacheLookups == nil {
		t.Error("CacheLookups is nil")
	}
	if m.GatewaysBuilt == nil {
		t.Error("GatewaysBuilt is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveRequest("default", "GET", 200, 0.05)
	m.ObserveRequest("default", "GET", 204, 0.1)
	m.ObserveRequest("default", "POST", 503, 0.5)

	if got := testutil.ToFloat64(m.SessionRequests.WithLabelValues("default", "GET", "2xx")); got != 2 {
		t.Errorf("GET 2xx = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SessionRequests.WithLabelValues("default", "POST", "5xx")); got != 1 {
		t.Errorf("POST 5xx = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "apikit_session_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("apikit_session_request_duration_seconds metric not found")
	}
}

func TestObserveErrorsAndRetries(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveError("billing", "timeout")
	m.ObserveError("billing", "timeout")
	m.ObserveRetry("billing")

	if got := testutil.ToFloat64(m.SessionErrors.WithLabelValues("billing", "timeout")); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SessionRetries.WithLabelValues("billing")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestInFlight(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.InFlight(1)
	m.InFlight(1)
	m.InFlight(-1)

	if got := testutil.ToFloat64(m.SessionInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}

func TestObserveCacheAndBuild(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveCache("default", "hit")
	m.ObserveBuild("create_user", nil)
	m.ObserveBuild("create_user", errors.New("boom"))

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("default", "hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GatewaysBuilt.WithLabelValues("create_user", "ok")); got != 1 {
		t.Errorf("builds ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GatewaysBuilt.WithLabelValues("create_user", "error")); got != 1 {
		t.Errorf("builds error = %v, want 1", got)
	}
}

func TestObserveReload(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveReload(nil, 1700000000)
	m.ObserveReload(errors.New("bad yaml"), 1700000100)

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got != 1700000000 {
		t.Errorf("last reload = %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	var m *metrics.Collector

	// Must not panic.
	m.ObserveRequest("s", "GET", 200, 1)
	m.ObserveError("s", "x")
	m.ObserveRetry("s")
	m.InFlight(1)
	m.ObserveCache("s", "hit")
	m.ObserveBuild("s", nil)
	m.ObserveReload(nil, 0)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "none"},
	}

	for _, tt := range tests {
		if got := metrics.StatusClass(tt.input); got != tt.expected {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}
