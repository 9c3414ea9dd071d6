package monitoring

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", status.Status)
	}
}

func TestHealthChecker_UnhealthyCheckWins(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: StatusUnhealthy, Message: "broken"} })
	status := hc.CheckHealth()
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", status.Status)
	}
}

func TestHealthChecker_DegradedCheck(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("meh", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	status := hc.CheckHealth()
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %q", status.Status)
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer s.Close()
	res := HTTPServiceHealthCheck("svc", s.URL)()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}
}

func TestHTTPServiceHealthCheck_ServerError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer s.Close()
	res := HTTPServiceHealthCheck("svc", s.URL)()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", res.Status)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"camera_id": "CAM_L"})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}

	res = ConfigurationHealthCheck(map[string]string{"camera_id": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for missing config, got %q", res.Status)
	}
}

func TestDirectoryWritableHealthCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	res := DirectoryWritableHealthCheck(dir)()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q: %s", res.Status, res.Message)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}
}

func TestSystemServiceHealthCheck_NeverUnhealthy(t *testing.T) {
	// systemd may or may not exist where tests run; either way the unit
	// probe must not take the whole node unhealthy
	res := SystemServiceHealthCheck("definitely-not-a-real-unit")()
	if res.Status == StatusUnhealthy {
		t.Fatalf("unit probe must degrade, not fail: %q", res.Status)
	}
}
