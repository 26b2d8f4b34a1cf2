package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/config"
	"github.com/ridgeline-labs/robotnav/internal/logging"
	"github.com/ridgeline-labs/robotnav/internal/navigator"
	"github.com/ridgeline-labs/robotnav/internal/protocol"
	"github.com/ridgeline-labs/robotnav/internal/server/observability"
)

// Handler drives each TCP connection through the handshake and navigation
// phases (HandleConnection runs concurrently, one goroutine per connection),
// and aggregates the counters observability.HandlerMetrics exposes over HTTP.
type Handler struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	sessions sync.Map // sessionID (string) -> *sessionRecord

	activeSessions     atomic.Int32
	handshakeAttempted atomic.Int64
	handshakeSucceeded atomic.Int64
	handshakeFailed    atomic.Int64
	navigationCommands atomic.Int64
	dodgesTriggered    atomic.Int64
	sessionsCompleted  atomic.Int64
	sessionsTimedOut   atomic.Int64

	// Events is the in-memory ring buffer for observability. Nil when the
	// observability surface is disabled.
	Events *observability.EventRing

	host *hostSampler
}

// NewHandler builds a Handler. host may be nil when host sampling is not
// running (observability disabled).
func NewHandler(cfg *config.ServerConfig, logger *slog.Logger, events *observability.EventRing, host *hostSampler) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: logger,
		Events: events,
		host:   host,
	}
}

// sessionRecord tracks one in-flight session for the sessions snapshot
// endpoint. Only the owning goroutine writes to it; reads happen
// concurrently from the HTTP handler, hence the mutex.
type sessionRecord struct {
	id         string
	remoteAddr string
	startedAt  time.Time

	mu       sync.Mutex
	username string
	state    string
	position protocol.Position
	lastSeen time.Time
}

func (r *sessionRecord) setUsername(u string) {
	r.mu.Lock()
	r.username = u
	r.mu.Unlock()
}

func (r *sessionRecord) setState(s string) {
	r.mu.Lock()
	r.state = s
	r.lastSeen = time.Now()
	r.mu.Unlock()
}

func (r *sessionRecord) setPosition(p protocol.Position) {
	r.mu.Lock()
	r.position = p
	r.lastSeen = time.Now()
	r.mu.Unlock()
}

func (r *sessionRecord) snapshot() observability.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return observability.SessionSummary{
		SessionID:    r.id,
		RemoteAddr:   r.remoteAddr,
		Username:     r.username,
		State:        r.state,
		PositionX:    r.position.X,
		PositionY:    r.position.Y,
		StartedAt:    r.startedAt.Format(time.RFC3339),
		LastActivity: r.lastSeen.Format(time.RFC3339),
	}
}

// MetricsSnapshot implements observability.HandlerMetrics.
func (h *Handler) MetricsSnapshot() observability.MetricsResponse {
	return observability.MetricsResponse{
		ActiveSessions:      h.activeSessions.Load(),
		HandshakesAttempted: h.handshakeAttempted.Load(),
		HandshakesSucceeded: h.handshakeSucceeded.Load(),
		HandshakesFailed:    h.handshakeFailed.Load(),
		NavigationCommands:  h.navigationCommands.Load(),
		DodgesTriggered:     h.dodgesTriggered.Load(),
		SessionsCompleted:   h.sessionsCompleted.Load(),
		SessionsTimedOut:    h.sessionsTimedOut.Load(),
	}
}

// SessionsSnapshot implements observability.HandlerMetrics.
func (h *Handler) SessionsSnapshot() []observability.SessionSummary {
	var out []observability.SessionSummary
	h.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*sessionRecord).snapshot())
		return true
	})
	return out
}

// HostStats implements observability.HandlerMetrics.
func (h *Handler) HostStats() *observability.HostStats {
	if h.host == nil {
		return nil
	}
	s := h.host.Stats()
	return &s
}

// HandleConnection runs one session to completion: handshake, navigation,
// logout, close. It never returns an error; every failure path is resolved
// into a wire frame (or a silent close, for a timeout) before returning.
func (h *Handler) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sessionID := generateSessionID()
	remoteAddr := conn.RemoteAddr().String()
	logger := h.logger.With("remote", remoteAddr, "session_id", sessionID)

	sessionLogger, closer, logPath, err := logging.NewSessionLogger(h.logger, h.cfg.Logging.SessionLogDir, remoteAddr, sessionID)
	if err != nil {
		logger.Warn("failed to open session log", "error", err)
		sessionLogger = h.logger
		closer = nil
	}
	sessionLogger = sessionLogger.With("remote", remoteAddr, "session_id", sessionID)
	if closer != nil {
		defer closer.Close()
	}

	record := &sessionRecord{
		id:         sessionID,
		remoteAddr: remoteAddr,
		startedAt:  time.Now(),
		state:      "handshake",
		lastSeen:   time.Now(),
	}
	h.sessions.Store(sessionID, record)
	defer h.sessions.Delete(sessionID)

	h.activeSessions.Add(1)
	defer h.activeSessions.Add(-1)

	framer := protocol.NewFramer(conn).WithTimeouts(h.cfg.Server.IdleTimeout, h.cfg.Server.RechargingTimeout)

	h.handshakeAttempted.Add(1)
	username, failure := runHandshake(h.cfg.KeyTable(), framer, conn, sessionLogger)
	if failure != nil {
		h.handshakeFailed.Add(1)
		h.finishWithFailure(conn, sessionLogger, remoteAddr, "", failure)
		return
	}
	h.handshakeSucceeded.Add(1)
	sessionLogger = sessionLogger.With("username", username)
	record.setUsername(username)
	record.setState("navigating")

	cmd := &protocolCommander{framer: framer, conn: conn, handler: h, record: record}
	if _, failure := navigator.Navigate(cmd); failure != nil {
		h.finishWithFailure(conn, sessionLogger, remoteAddr, username, failure)
		return
	}

	if _, err := conn.Write(protocol.FrameLogout); err != nil {
		sessionLogger.Debug("failed to write logout frame", "error", err)
	}
	record.setState("done")
	h.sessionsCompleted.Add(1)
	sessionLogger.Info("session complete")

	if logPath != "" {
		if err := logging.ArchiveSessionLog(h.cfg.Logging.SessionLogDir, logPath, h.cfg.Logging.SessionLogCompression); err != nil {
			logger.Warn("failed to archive session log", "error", err)
		}
	}
}

// finishWithFailure writes the wire frame for failure (none, for a timeout),
// records the outcome, and logs it.
func (h *Handler) finishWithFailure(conn net.Conn, logger *slog.Logger, remoteAddr, username string, failure *protocol.Failure) {
	if failure.Kind == protocol.ErrTimeout {
		h.sessionsTimedOut.Add(1)
		logger.Debug("session timed out", "remote", remoteAddr)
		return
	}
	if frame := failure.Kind.Frame(); frame != nil {
		if _, err := conn.Write(frame); err != nil {
			logger.Debug("failed to write error frame", "error", err)
		}
	}
	if h.Events != nil {
		h.Events.PushEvent("warn", eventTypeFor(failure.Kind), username, failure.Error())
	}
	logger.Info("session failed", "kind", failure.Kind.String(), "error", failure.Error())
}

func eventTypeFor(kind protocol.ErrKind) string {
	switch kind {
	case protocol.ErrSyntax:
		return "syntax_error"
	case protocol.ErrLogin:
		return "login_failed"
	case protocol.ErrKeyRange:
		return "key_out_of_range"
	case protocol.ErrLogic:
		return "logic_error"
	default:
		return "unknown_error"
	}
}

func generateSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
