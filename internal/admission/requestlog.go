package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mssola/useragent"
)

// RequestLogger appends one line per request to the request log sink. It
// never rejects.
type RequestLogger struct {
	sink   *slog.Logger
	logger *slog.Logger
}

type RequestLoggerOption func(*RequestLogger)

// WithAppLogger mirrors each entry, with structured attributes, to the
// process logger at debug level.
func WithAppLogger(logger *slog.Logger) RequestLoggerOption {
	return func(l *RequestLogger) {
		l.logger = logger
	}
}

func NewRequestLogger(sink *slog.Logger, opts ...RequestLoggerOption) *RequestLogger {
	l := &RequestLogger{sink: sink}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RequestLogger) Intercept(ctx context.Context, req *Request) error {
	if l.sink != nil {
		l.sink.InfoContext(ctx, FormatRequestLine(req))
	}
	if l.logger != nil {
		l.logger.DebugContext(ctx, "request received",
			"user", req.Identity(),
			"method", req.Method,
			"path", req.Path,
			"request_id", req.RequestID,
			"client", userAgentFamily(req.UserAgent),
		)
	}
	return nil
}

// FormatRequestLine is the message body of a request log entry.
func FormatRequestLine(req *Request) string {
	return fmt.Sprintf("User:%s Path:%s", req.Identity(), req.Path)
}

// userAgentFamily collapses a User-Agent header to "browser/os", or
// "bot:<name>" for crawlers.
func userAgentFamily(header string) string {
	if header == "" {
		return "unknown"
	}
	ua := useragent.New(header)
	name, _ := ua.Browser()
	if ua.Bot() {
		return "bot:" + name
	}
	if os := ua.OS(); os != "" {
		return name + "/" + os
	}
	return name
}
