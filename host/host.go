// Package host defines the contract every host shell presents and the
// pieces they share.
//
// An Adapter answers compilation requests with normalized results. The
// three shells compose the same parts:
//
//	Provider   registry + payload encoding, reloaded when a new build lands
//	Pipeline   one session + invoker + normalizer; an Adapter
//	Managed    a long-lived Pipeline that is replaced on reload
//
// The page shell keeps one Managed pipeline, the widget shell keeps one
// Pipeline per widget, and the relay shell serves a Managed pipeline over
// HTTP.
package host

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/session"
)

// Adapter is the outward contract of every host: submit a request, get a
// normalized result. A compiler-reported error is a Result, not an error.
type Adapter interface {
	Submit(ctx context.Context, req compiler.Request) (*compiler.Result, error)
}

// Pipeline runs requests against one session. Repeated submits reuse the
// session's module instance.
type Pipeline struct {
	session    *session.Session
	normalizer *compiler.Normalizer
	metrics    *Metrics
	host       string
	timeout    time.Duration
}

var _ Adapter = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records submits in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTimeout bounds each module call. Expiry is an invocation failure.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithHost names the host shell in metrics and logs.
func WithHost(name string) Option {
	return func(p *Pipeline) { p.host = name }
}

// NewPipeline creates a pipeline over s. A nil normalizer reports release
// mode.
func NewPipeline(s *session.Session, n *compiler.Normalizer, opts ...Option) *Pipeline {
	if n == nil {
		n = compiler.NewNormalizer("")
	}
	p := &Pipeline{session: s, normalizer: n, host: "embedded"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session returns the pipeline's session.
func (p *Pipeline) Session() *session.Session { return p.session }

// Submit compiles req on the pipeline's session.
func (p *Pipeline) Submit(ctx context.Context, req compiler.Request) (*compiler.Result, error) {
	start := time.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var res *compiler.Result
	resp, err := compiler.Compile(ctx, p.session, req)
	if err == nil {
		res = p.normalizer.Normalize(resp, req)
	}

	elapsed := time.Since(start)
	p.metrics.observe(p.host, res, err, elapsed.Seconds())

	fields := []zap.Field{
		zap.String("host", p.host),
		zap.String("session", p.session.ID()),
		zap.String("outcome", Outcome(res, err)),
		zap.Int("source_bytes", len(req.Source)),
		zap.Duration("duration", elapsed),
	}
	switch {
	case err == nil:
		Logger().Debug("request complete", fields...)
	case errors.IsStartup(err):
		Logger().Error("compiler unavailable", append(fields, zap.Error(err))...)
	default:
		Logger().Warn("request failed", append(fields, zap.Error(err))...)
	}
	return res, err
}

// Close tears down the pipeline's session.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.session.Close(ctx)
}
