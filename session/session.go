// Package session binds one instantiated compiler module to one host
// context.
//
// A Session instantiates lazily on first use, exactly once: callers that
// arrive while instantiation is in flight wait for it instead of starting
// another. Invocations are serialized, one call in flight per session,
// because the module's internal state across calls is not known. Close
// aborts any outstanding call and releases the module.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/payload"
	"github.com/wippyai/simplicity-bridge/runtime"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninstantiated State = iota
	StateInstantiating
	StateReady
	// StateFailed: instantiation failed. Terminal; a new session is needed.
	StateFailed
	// StateCorrupted: the module stopped answering after a failed call.
	StateCorrupted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateInstantiating:
		return "instantiating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCorrupted:
		return "corrupted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DefaultProbeTimeout bounds the health probe run after a failed call.
const DefaultProbeTimeout = 5 * time.Second

// Session holds the handle for one host context.
type Session struct {
	instantiator runtime.Instantiator
	payload      *payload.Payload
	tracer       trace.Tracer

	// lifetime is cancelled by Close; every instantiate and invoke runs
	// under it.
	lifetime context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	state  State
	handle runtime.Handle
	err    error
	ready  chan struct{}

	slot chan struct{}

	id             string
	probeTimeout   time.Duration
	instantiations atomic.Int64
	invocations    atomic.Int64
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session identifier used in logs and spans. A random UUID
// is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithTracerProvider sets where session spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// WithProbeTimeout bounds the health probe run after a failed call.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Session) { s.probeTimeout = d }
}

const tracerName = "github.com/wippyai/simplicity-bridge/session"

// New creates a session for payload. Nothing is instantiated until the
// first call.
func New(inst runtime.Instantiator, p *payload.Payload, opts ...Option) *Session {
	lifetime, cancel := context.WithCancel(context.Background())
	s := &Session{
		instantiator: inst,
		payload:      p,
		tracer:       otel.Tracer(tracerName),
		lifetime:     lifetime,
		cancel:       cancel,
		slot:         make(chan struct{}, 1),
		id:           uuid.NewString(),
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Version returns the version of the payload this session runs.
func (s *Session) Version() string { return s.payload.Version }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Failed or Corrupted.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Instantiations counts instantiate calls made by this session. It never
// exceeds one.
func (s *Session) Instantiations() int64 { return s.instantiations.Load() }

// Invocations counts module invocations, probes excluded.
func (s *Session) Invocations() int64 { return s.invocations.Load() }

// Handle returns the ready handle, instantiating on first use. Concurrent
// callers share one instantiation. ctx only bounds the wait.
func (s *Session) Handle(ctx context.Context) (runtime.Handle, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			h := s.handle
			s.mu.Unlock()
			return h, nil
		case StateFailed:
			err := s.err
			s.mu.Unlock()
			return nil, err
		case StateCorrupted:
			err := s.err
			s.mu.Unlock()
			return nil, errors.Invocation("session is unusable after an earlier failure", err)
		case StateClosed:
			s.mu.Unlock()
			return nil, errors.SessionClosed()
		case StateUninstantiated:
			s.state = StateInstantiating
			s.ready = make(chan struct{})
			go s.instantiate(trace.SpanFromContext(ctx))
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, errors.Invocation("waiting for instantiation", ctx.Err())
		}
	}
}

func (s *Session) instantiate(parent trace.Span) {
	ctx := trace.ContextWithSpan(s.lifetime, parent)
	ctx, span := s.tracer.Start(ctx, "session.instantiate",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("module.version", s.payload.Version),
			attribute.Int("module.size", s.payload.ModuleSize),
		))
	defer span.End()

	start := time.Now()
	s.instantiations.Add(1)
	h, err := s.instantiator.Instantiate(ctx, s.payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(s.ready)

	if s.state == StateClosed {
		if h != nil {
			_ = h.Close(context.Background())
		}
		span.SetStatus(codes.Error, "session closed during instantiation")
		return
	}
	if err != nil {
		s.state = StateFailed
		s.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		Logger().Error("instantiation failed",
			zap.String("session", s.id),
			zap.String("version", s.payload.Version),
			zap.Error(err))
		return
	}

	s.state = StateReady
	s.handle = h
	Logger().Info("session ready",
		zap.String("session", s.id),
		zap.String("version", s.payload.Version),
		zap.Duration("duration", time.Since(start)))
}

// Invoke runs call on the session's module, instantiating first if
// needed. Calls are serialized. A failed call triggers a probe; if the
// probe fails the session becomes Corrupted.
func (s *Session) Invoke(ctx context.Context, call runtime.Call) (string, error) {
	ctx, span := s.tracer.Start(ctx, "session.invoke",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("source.bytes", len(call.Source)),
			attribute.Bool("witness", call.Witness != nil),
		))
	defer span.End()

	text, err := s.invoke(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return text, err
}

func (s *Session) invoke(ctx context.Context, call runtime.Call) (string, error) {
	h, err := s.Handle(ctx)
	if err != nil {
		return "", err
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return "", errors.Invocation("waiting for session", ctx.Err())
	case <-s.lifetime.Done():
		return "", errors.SessionClosed()
	}
	defer func() { <-s.slot }()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	s.invocations.Add(1)
	start := time.Now()
	text, err := h.Invoke(callCtx, call)
	if err == nil {
		Logger().Debug("invocation complete",
			zap.String("session", s.id),
			zap.Int("source_bytes", len(call.Source)),
			zap.Duration("duration", time.Since(start)))
		return text, nil
	}

	if s.lifetime.Err() != nil {
		// torn down mid-call: no partial result
		return "", errors.SessionClosed()
	}
	Logger().Warn("invocation failed",
		zap.String("session", s.id),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	if stderrors.Is(err, errors.ErrInvocationFailure) || stderrors.Is(err, errors.ErrSessionClosed) {
		s.check(h, err)
	}
	if errors.KindOf(err) == errors.KindSessionClosed {
		return "", errors.Invocation("module instance closed", err)
	}
	return "", err
}

// check probes h after a failed call and marks the session corrupted when
// the module no longer answers.
func (s *Session) check(h runtime.Handle, cause error) {
	ctx, cancel := context.WithTimeout(s.lifetime, s.probeTimeout)
	defer cancel()

	perr := h.Probe(ctx)
	if perr == nil && !h.Closed() {
		Logger().Debug("probe passed after failed call", zap.String("session", s.id))
		return
	}
	if perr == nil {
		perr = errors.Invocation("module instance closed", nil)
	}

	s.mu.Lock()
	if s.state == StateReady && s.handle == h {
		s.state = StateCorrupted
		s.err = stderrors.Join(cause, perr)
		s.handle = nil
	}
	s.mu.Unlock()

	Logger().Error("session corrupted",
		zap.String("session", s.id),
		zap.NamedError("cause", cause),
		zap.NamedError("probe", perr))
	_ = h.Close(context.Background())
}

// Close tears the session down: an in-flight call is aborted and the
// handle released. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	s.cancel()
	Logger().Debug("session closed", zap.String("session", s.id))
	if h != nil {
		return h.Close(ctx)
	}
	return nil
}
