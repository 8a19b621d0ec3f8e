package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// RequestLogTimeFormat is the timestamp layout of request log lines.
const RequestLogTimeFormat = "2006-01-02 15:04:05.000"

// RequestLogHandler renders each record as a single line:
//
//	<timestamp> <LEVEL>: <message>
//
// Attributes are not rendered; the line format is fixed so the file stays
// greppable. Structured detail belongs in the process logger.
type RequestLogHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
}

// NewRequestLogHandler writes lines to w at or above level.
func NewRequestLogHandler(w io.Writer, level slog.Leveler) *RequestLogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &RequestLogHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *RequestLogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *RequestLogHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s %s: %s\n", ts.Format(RequestLogTimeFormat), r.Level.String(), r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *RequestLogHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *RequestLogHandler) WithGroup(_ string) slog.Handler { return h }

// OpenRequestLog opens path for appending and returns a logger over it along
// with the file so the caller can close it on shutdown.
func OpenRequestLog(path string) (*slog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open request log %s: %w", path, err)
	}
	return slog.New(NewRequestLogHandler(f, slog.LevelInfo)), f, nil
}
