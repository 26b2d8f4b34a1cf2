package observability

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/config"
)

// mockMetrics implements HandlerMetrics for tests.
type mockMetrics struct {
	metrics  MetricsResponse
	sessions []SessionSummary
	host     *HostStats
}

func (m *mockMetrics) MetricsSnapshot() MetricsResponse   { return m.metrics }
func (m *mockMetrics) SessionsSnapshot() []SessionSummary { return m.sessions }
func (m *mockMetrics) HostStats() *HostStats              { return m.host }

func newMockMetrics() *mockMetrics {
	return &mockMetrics{sessions: []SessionSummary{}}
}

func testCfg() *config.ServerConfig {
	return &config.ServerConfig{
		Server:  config.ServerListen{Listen: "0.0.0.0:3999", IdleTimeout: time.Second, RechargingTimeout: 5 * time.Second},
		Logging: config.LoggingInfo{Level: "info", Format: "json", SessionLogCompression: "gzip"},
		Observability: config.ObservabilityConfig{
			Enabled:       true,
			Listen:        "127.0.0.1:9848",
			StatsInterval: 15 * time.Second,
		},
	}
}

func localhostACL(t *testing.T) *ACL {
	t.Helper()
	return NewACL(parseCIDRs(t, "127.0.0.1/32"))
}

func TestHealth_ReturnsOK(t *testing.T) {
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %v", resp.Status)
	}
	if resp.Uptime == "" {
		t.Error("expected uptime field")
	}
	if resp.Version == "" {
		t.Error("expected version field")
	}
	if resp.Stats == nil {
		t.Fatal("expected stats field in health response")
	}
	if resp.Stats.GoRoutines <= 0 {
		t.Errorf("expected goroutines > 0, got %d", resp.Stats.GoRoutines)
	}
	if resp.Stats.CPUCores <= 0 {
		t.Errorf("expected cpu_cores > 0, got %d", resp.Stats.CPUCores)
	}
}

func TestHealth_IncludesHostStatsWhenAvailable(t *testing.T) {
	mock := newMockMetrics()
	mock.host = &HostStats{CPUPercent: 12.5, MemoryPercent: 44.0, LoadAverage1: 0.5}
	router := NewRouter(mock, testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Host == nil {
		t.Fatal("expected host stats")
	}
	if resp.Host.CPUPercent != 12.5 {
		t.Errorf("expected cpu_percent 12.5, got %f", resp.Host.CPUPercent)
	}
}

func TestMetrics_ReturnsData(t *testing.T) {
	mock := newMockMetrics()
	mock.metrics = MetricsResponse{
		ActiveSessions:      3,
		HandshakesAttempted: 10,
		HandshakesSucceeded: 8,
		HandshakesFailed:    2,
		NavigationCommands:  42,
		DodgesTriggered:     1,
	}
	router := NewRouter(mock, testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp MetricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.ActiveSessions != 3 {
		t.Errorf("expected active_sessions 3, got %d", resp.ActiveSessions)
	}
	if resp.HandshakesSucceeded != 8 {
		t.Errorf("expected handshakes_succeeded 8, got %d", resp.HandshakesSucceeded)
	}
	if resp.NavigationCommands != 42 {
		t.Errorf("expected navigation_commands_sent 42, got %d", resp.NavigationCommands)
	}
}

func TestSessions_EmptyList(t *testing.T) {
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp []SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("expected empty sessions, got %d", len(resp))
	}
}

func TestSessions_WithData(t *testing.T) {
	mock := newMockMetrics()
	mock.sessions = []SessionSummary{
		{SessionID: "abc123", RemoteAddr: "10.0.0.5:5123", Username: "hal", State: "navigating", PositionX: 1, PositionY: 2},
	}
	router := NewRouter(mock, testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp []SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 session, got %d", len(resp))
	}
	if resp[0].SessionID != "abc123" {
		t.Errorf("expected session abc123, got %s", resp[0].SessionID)
	}
	if resp[0].Username != "hal" {
		t.Errorf("expected username hal, got %s", resp[0].Username)
	}
}

func TestConfigEffective(t *testing.T) {
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/config/effective", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["listen"] != "0.0.0.0:3999" {
		t.Errorf("expected listen '0.0.0.0:3999', got %v", resp["listen"])
	}
	if resp["log_level"] != "info" {
		t.Errorf("expected log_level 'info', got %v", resp["log_level"])
	}
	if _, ok := resp["server_key"]; ok {
		t.Error("config/effective must never expose handshake key material")
	}
	if _, ok := resp["keys"]; ok {
		t.Error("config/effective must never expose handshake key material")
	}
}

func TestEvents_ReturnsRecent(t *testing.T) {
	ring := NewEventRing(10)
	ring.PushEvent("warn", "login_failed", "hal", "bad confirmation")
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), ring)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp []EventEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 event, got %d", len(resp))
	}
	if resp[0].Username != "hal" {
		t.Errorf("expected username hal, got %s", resp[0].Username)
	}
}

func TestEvents_NilStoreOmitsRoute(t *testing.T) {
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when no event store is wired, got %d", rec.Code)
	}
}

func TestACL_BlocksHealthEndpoint(t *testing.T) {
	acl := NewACL([]*net.IPNet{
		mustParseCIDR("10.0.0.0/8"),
	})
	router := NewRouter(newMockMetrics(), testCfg(), acl, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestNotFound_Returns404(t *testing.T) {
	router := NewRouter(newMockMetrics(), testCfg(), localhostACL(t), nil)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func mustParseCIDR(s string) *net.IPNet {
	_, cidr, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return cidr
}
