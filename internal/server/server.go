// Package server implements the robot navigation server (robotserver).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ridgeline-labs/robotnav/internal/config"
	"github.com/ridgeline-labs/robotnav/internal/server/observability"
)

// Run binds cfg.Server.Listen and blocks accepting connections until ctx is
// canceled. It returns a non-zero error only if the listener cannot be
// created; a subsequently canceled context always returns nil.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	defer ln.Close()

	logger.Info("server listening", "address", cfg.Server.Listen)
	return serve(ctx, ln, cfg, logger)
}

// serve runs the accept loop and background reporters against an
// already-bound listener. Split out from Run so tests can supply their own
// listener (e.g. bound to :0).
func serve(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	var host *hostSampler
	var events *observability.EventRing

	if cfg.Observability.Enabled {
		host = newHostSampler(logger)
		host.Start(cfg.Observability.StatsInterval)
		defer host.Stop()

		events = observability.NewEventRing(1000)
	}

	handler := NewHandler(cfg, logger, events, host)

	if cfg.Observability.Enabled {
		srv := startObservability(cfg, handler, logger, events)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	statsInterval := cfg.Observability.StatsInterval
	if statsInterval <= 0 {
		statsInterval = 15 * time.Second
	}

	statsReporter := cron.New()
	statsReporter.AddFunc(fmt.Sprintf("@every %s", statsInterval), func() {
		m := handler.MetricsSnapshot()
		logger.Info("stats",
			"active_sessions", m.ActiveSessions,
			"handshakes_attempted", m.HandshakesAttempted,
			"handshakes_succeeded", m.HandshakesSucceeded,
			"handshakes_failed", m.HandshakesFailed,
			"navigation_commands", m.NavigationCommands,
			"dodges_triggered", m.DodgesTriggered,
		)
	})
	statsReporter.Start()
	defer func() { <-statsReporter.Stop().Done() }()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handler.HandleConnection(ctx, conn)
	}
}

// RunWithListener runs the server against an already-bound listener, for
// tests that need a known (or ephemeral) port.
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	return serve(ctx, ln, cfg, logger)
}

// startObservability starts the read-only HTTP observability surface in the
// background, bound to cfg.Observability.Listen with the ACL applied.
func startObservability(cfg *config.ServerConfig, handler *Handler, logger *slog.Logger, events *observability.EventRing) *http.Server {
	acl := observability.NewACL(cfg.Observability.ParsedCIDRs)
	router := observability.NewRouter(handler, cfg, acl, events)

	srv := &http.Server{
		Addr:              cfg.Observability.Listen,
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	go func() {
		logger.Info("observability listening", "address", cfg.Observability.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server error", "error", err)
		}
	}()

	return srv
}
