package observability

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/config"
)

// startTime records when the process started, for uptime reporting.
var startTime = time.Now()

// Version is set via ldflags at build time (-X ...Version=x.y.z).
var Version = "dev"

// HandlerMetrics is the read-only view the router needs from the running
// server. It decouples this package from server.Handler.
type HandlerMetrics interface {
	MetricsSnapshot() MetricsResponse
	SessionsSnapshot() []SessionSummary
	HostStats() *HostStats
}

// NewRouter builds the observability HTTP handler, with the ACL middleware
// applied to every route.
func NewRouter(metrics HandlerMetrics, cfg *config.ServerConfig, acl *ACL, events *EventRing) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", makeHealthHandler(metrics))
	mux.HandleFunc("GET /api/v1/metrics", makeMetricsHandler(metrics))
	mux.HandleFunc("GET /api/v1/sessions", makeSessionsHandler(metrics))
	mux.HandleFunc("GET /api/v1/config/effective", makeConfigHandler(cfg))
	if events != nil {
		mux.HandleFunc("GET /api/v1/events", makeEventsHandler(events))
	}

	return acl.Middleware(mux)
}

// makeHealthHandler reports process status, uptime, and runtime/host stats.
func makeHealthHandler(metrics HandlerMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(startTime)

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		var lastPauseMs float64
		if mem.NumGC > 0 {
			lastPauseMs = float64(mem.PauseNs[(mem.NumGC+255)%256]) / 1e6
		}

		resp := HealthResponse{
			Status:  "ok",
			Uptime:  uptime.String(),
			Version: Version,
			Go:      runtime.Version(),
			Stats: &ServerStats{
				GoRoutines:  runtime.NumGoroutine(),
				HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
				HeapSysMB:   float64(mem.HeapSys) / (1024 * 1024),
				GCPauseMs:   lastPauseMs,
				GCCycles:    mem.NumGC,
				CPUCores:    runtime.NumCPU(),
			},
			Host: metrics.HostStats(),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// makeMetricsHandler reports handshake and navigation counters.
func makeMetricsHandler(metrics HandlerMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.MetricsSnapshot())
	}
}

// makeSessionsHandler lists in-flight sessions.
func makeSessionsHandler(metrics HandlerMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := metrics.SessionsSnapshot()
		if sessions == nil {
			sessions = []SessionSummary{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

// makeConfigHandler reports the effective, non-sensitive configuration. The
// handshake key table is never exposed here.
func makeConfigHandler(cfg *config.ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"listen":             cfg.Server.Listen,
			"idle_timeout":       cfg.Server.IdleTimeout.String(),
			"recharging_timeout": cfg.Server.RechargingTimeout.String(),
			"log_level":          cfg.Logging.Level,
			"log_format":         cfg.Logging.Format,
			"session_log_compression": cfg.Logging.SessionLogCompression,
			"observability_enabled":   cfg.Observability.Enabled,
			"observability_listen":    cfg.Observability.Listen,
			"stats_interval":          cfg.Observability.StatsInterval.String(),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// makeEventsHandler serves the most recent operational events.
func makeEventsHandler(events *EventRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		writeJSON(w, http.StatusOK, events.Recent(limit))
	}
}

// writeJSON serializes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// parseInt parses a numeric query parameter, falling back to defaultVal.
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	return v
}
