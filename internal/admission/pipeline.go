package admission

import (
	"context"
	"errors"
	"log/slog"

	"parley/internal/admission/metrics"
	audit "parley/pkg/platform/audit"
)

// AuditPublisher receives a security event for every rejection.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stages are the interceptors in their fixed order. A nil stage is skipped.
type Stages struct {
	Logger      *RequestLogger
	Credentials *CredentialGate
	Window      *AccessWindowGate
	RateLimit   *RateLimitGate
	Role        *RoleGate
}

// Pipeline runs RequestLogger, CredentialGate, AccessWindowGate,
// RateLimitGate and RoleGate in that order and stops at the first rejection.
type Pipeline struct {
	stages  []Interceptor
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(p *Pipeline) {
		p.auditor = publisher
	}
}

func NewPipeline(st Stages, opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}

	// Typed nil pointers must not reach the interface slice.
	if st.Logger != nil {
		p.stages = append(p.stages, st.Logger)
	}
	if st.Credentials != nil {
		p.stages = append(p.stages, st.Credentials)
	}
	if st.Window != nil {
		p.stages = append(p.stages, st.Window)
	}
	if st.RateLimit != nil {
		p.stages = append(p.stages, st.RateLimit)
	}
	if st.Role != nil {
		p.stages = append(p.stages, st.Role)
	}
	return p
}

// Admit runs each stage in order. The returned error is a *Rejection when a
// stage refused the request.
func (p *Pipeline) Admit(ctx context.Context, req *Request) error {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := stage.Intercept(ctx, req)
		if err == nil {
			continue
		}

		var rej *Rejection
		if errors.As(err, &rej) {
			p.onReject(ctx, req, rej)
		}
		return err
	}

	if p.metrics != nil {
		p.metrics.IncrementAdmitted()
	}
	return nil
}

func (p *Pipeline) onReject(ctx context.Context, req *Request, rej *Rejection) {
	if p.metrics != nil {
		p.metrics.IncrementRejected(string(rej.Reason))
	}
	p.logger.InfoContext(ctx, "request rejected",
		"reason", rej.Reason,
		"status", rej.Status,
		"method", req.Method,
		"path", req.Path,
		"user", req.Identity(),
		"request_id", req.RequestID,
	)
	if p.auditor == nil {
		return
	}

	action := audit.EventAdmissionRejected
	if rej.Reason == ReasonRateLimit {
		action = audit.EventRateLimitExceeded
	}
	event := audit.NewEvent(action, req.Now)
	event.UserID = req.UserID
	event.Subject = req.Method + " " + req.Path
	event.Decision = "denied"
	event.Reason = string(rej.Reason)
	event.IP = req.ClientIP
	event.RequestID = req.RequestID
	if err := p.auditor.Emit(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to emit audit event", "event", action, "error", err)
	}
}
