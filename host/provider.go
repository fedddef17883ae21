package host

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/payload"
	"github.com/wippyai/simplicity-bridge/registry"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/session"
)

// Provider turns the registry's current build into sessions. The encoded
// payload is cached until Reload finds a different build.
type Provider struct {
	registry     *registry.Registry
	instantiator runtime.Instantiator
	metrics      *Metrics
	sessionOpts  []session.Option

	mu        sync.RWMutex
	current   *payload.Payload
	listeners []func(*payload.Payload)
}

// NewProvider creates a provider. Nothing is read until the first
// Payload or NewSession call.
func NewProvider(reg *registry.Registry, inst runtime.Instantiator, m *Metrics, opts ...session.Option) *Provider {
	return &Provider{registry: reg, instantiator: inst, metrics: m, sessionOpts: opts}
}

// Payload returns the encoded current build, locating it on first use.
// Registry and encoding failures are returned every time; they are not
// cached.
func (p *Provider) Payload() (*payload.Payload, error) {
	p.mu.RLock()
	cur := p.current
	p.mu.RUnlock()
	if cur != nil {
		return cur, nil
	}

	pl, err := p.load()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.current = pl
	}
	return p.current, nil
}

func (p *Provider) load() (*payload.Payload, error) {
	asset, err := p.registry.Locate()
	if err != nil {
		return nil, err
	}
	return payload.Encode(asset.Binary, asset.Glue, asset.Version)
}

// NewSession creates a session for the current build. A missing,
// ambiguous or unencodable build fails here, before any module instance
// exists.
func (p *Provider) NewSession(host string, opts ...session.Option) (*session.Session, error) {
	pl, err := p.Payload()
	if err != nil {
		return nil, err
	}
	all := append(append([]session.Option(nil), p.sessionOpts...), opts...)
	s := session.New(p.instantiator, pl, all...)
	p.metrics.sessionCreated(host)
	Logger().Debug("session created",
		zap.String("host", host),
		zap.String("session", s.ID()),
		zap.String("version", pl.Version))
	return s, nil
}

// OnReload registers fn to run after Reload switches to a new build.
func (p *Provider) OnReload(fn func(*payload.Payload)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Reload locates the build again. It reports whether the build changed;
// listeners run only then. On error the previous build stays current.
func (p *Provider) Reload() (bool, error) {
	pl, err := p.load()
	if err != nil {
		p.metrics.reloaded("error")
		Logger().Warn("reload failed, keeping current build", zap.Error(err))
		return false, err
	}

	p.mu.Lock()
	if p.current != nil && p.current.Equal(pl) {
		p.mu.Unlock()
		p.metrics.reloaded("unchanged")
		return false, nil
	}
	prev := p.current
	p.current = pl
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	p.metrics.reloaded("changed")
	from := ""
	if prev != nil {
		from = prev.Version
	}
	Logger().Info("module build changed",
		zap.String("from", from),
		zap.String("version", pl.Version))
	for _, fn := range listeners {
		fn(pl)
	}
	return true, nil
}

// Watch reloads whenever the module directory dir changes. It blocks
// until ctx is done.
func (p *Provider) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	return registry.Watch(ctx, dir, debounce, func() {
		_, _ = p.Reload()
	})
}

// Managed is a long-lived pipeline for hosts that serve many requests
// from one session: the page and relay shells. The session is replaced
// when the provider reloads, and, when ReplaceCorrupted is set, after it
// became corrupted. A session whose instantiation failed is never
// replaced implicitly.
type Managed struct {
	provider   *Provider
	normalizer *compiler.Normalizer
	opts       []Option
	host       string

	// ReplaceCorrupted starts a fresh session for the next request once
	// the current one is corrupted.
	ReplaceCorrupted bool

	mu   sync.Mutex
	pipe *Pipeline
}

var _ Adapter = (*Managed)(nil)

// NewManaged creates a managed pipeline. No session exists until the
// first request.
func NewManaged(p *Provider, host string, n *compiler.Normalizer, opts ...Option) *Managed {
	m := &Managed{
		provider:   p,
		normalizer: n,
		host:       host,
		opts:       append([]Option{WithHost(host)}, opts...),
	}
	p.OnReload(func(*payload.Payload) { m.Reset() })
	return m
}

// Pipeline returns the current pipeline, creating its session if needed.
func (m *Managed) Pipeline() (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipe != nil && m.ReplaceCorrupted && m.pipe.session.State() == session.StateCorrupted {
		old := m.pipe
		m.pipe = nil
		Logger().Warn("replacing corrupted session",
			zap.String("host", m.host),
			zap.String("session", old.session.ID()),
			zap.NamedError("cause", old.session.Err()))
		go func() { _ = old.Close(context.Background()) }()
	}
	if m.pipe == nil {
		s, err := m.provider.NewSession(m.host)
		if err != nil {
			return nil, err
		}
		m.pipe = NewPipeline(s, m.normalizer, m.opts...)
	}
	return m.pipe, nil
}

// Submit compiles req on the current pipeline.
func (m *Managed) Submit(ctx context.Context, req compiler.Request) (*compiler.Result, error) {
	pipe, err := m.Pipeline()
	if err != nil {
		return nil, err
	}
	return pipe.Submit(ctx, req)
}

// Reset drops the current session; the next request starts a new one on
// the provider's current build. A call in flight on the old session is
// aborted.
func (m *Managed) Reset() {
	m.mu.Lock()
	old := m.pipe
	m.pipe = nil
	m.mu.Unlock()
	if old != nil {
		_ = old.Close(context.Background())
	}
}

// Close tears down the current session.
func (m *Managed) Close(ctx context.Context) error {
	m.mu.Lock()
	old := m.pipe
	m.pipe = nil
	m.mu.Unlock()
	if old != nil {
		return old.Close(ctx)
	}
	return nil
}
