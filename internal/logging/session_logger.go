package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	pgzip "github.com/klauspost/pgzip"
)

// fanOutHandler is a slog.Handler that dispatches each record to two
// handlers. Used by NewSessionLogger to write simultaneously to the global
// handler and the session's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A session log write failure must never suppress the global log line.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewSessionLogger builds a logger that writes to both the base (global)
// logger and a dedicated file for one session, at:
//
//	{sessionLogDir}/{remoteAddr}/{sessionID}.log
//
// Returns the enriched logger, an io.Closer to close the session file, and
// the path of the file created (absolute only if sessionLogDir is). The Closer MUST be called (defer)
// when the session ends.
//
// If sessionLogDir is empty, returns the base logger unmodified (no-op).
func NewSessionLogger(baseLogger *slog.Logger, sessionLogDir, remoteAddr, sessionID string) (*slog.Logger, io.Closer, string, error) {
	if sessionLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(sessionLogDir, sanitizeAddr(remoteAddr))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating session log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, sessionID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening session log file %s: %w", logPath, err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

func sanitizeAddr(addr string) string {
	out := make([]rune, 0, len(addr))
	for _, r := range addr {
		switch r {
		case ':', '/', '\\':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// ArchiveSessionLog compresses a finished session's log file in place,
// using the configured codec, and removes the uncompressed original. It is
// a no-op if sessionLogDir is empty. "none" disables archival entirely and
// leaves the plain-text log file on disk.
func ArchiveSessionLog(sessionLogDir, logPath, codec string) error {
	if sessionLogDir == "" || logPath == "" || codec == "none" {
		return nil
	}

	src, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("opening session log for archival: %w", err)
	}
	defer src.Close()

	dstPath := logPath + extensionFor(codec)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating archived session log: %w", err)
	}

	w, err := compressorFor(dst, codec)
	if err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("compressing session log: %w", err)
	}
	if err := w.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("closing compressor: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing archived session log: %w", err)
	}

	return os.Remove(logPath)
}

func extensionFor(codec string) string {
	switch codec {
	case "zstd":
		return ".zst"
	default:
		return ".gz"
	}
}

func compressorFor(w io.Writer, codec string) (io.WriteCloser, error) {
	switch codec {
	case "zstd":
		return zstd.NewWriter(w)
	case "pgzip":
		return pgzip.NewWriter(w), nil
	default:
		return gzip.NewWriter(w), nil
	}
}
