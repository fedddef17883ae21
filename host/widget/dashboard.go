// Package widget hosts the compiler inside a long-lived dashboard. Every
// widget owns its own session, passed explicitly into each call, so two
// widgets never share a module instance and a test can build as many
// isolated widgets as it needs.
package widget

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/session"
)

// Widget is one compiler panel on the dashboard.
type Widget struct {
	ID       string
	pipeline *host.Pipeline
}

var _ host.Adapter = (*Widget)(nil)

// Submit compiles req on the widget's own session.
func (w *Widget) Submit(ctx context.Context, req compiler.Request) (*compiler.Result, error) {
	return w.pipeline.Submit(ctx, req)
}

// Session returns the widget's session.
func (w *Widget) Session() *session.Session { return w.pipeline.Session() }

// Dashboard owns the widgets of one dashboard process.
type Dashboard struct {
	provider   *host.Provider
	normalizer *compiler.Normalizer
	opts       []host.Option

	mu      sync.Mutex
	widgets map[string]*Widget
}

// NewDashboard creates an empty dashboard.
func NewDashboard(p *host.Provider, n *compiler.Normalizer, opts ...host.Option) *Dashboard {
	return &Dashboard{
		provider:   p,
		normalizer: n,
		opts:       append([]host.Option{host.WithHost("widget")}, opts...),
		widgets:    make(map[string]*Widget),
	}
}

// Open adds a widget with a fresh session. Startup failures (no build,
// unencodable build) are returned here.
func (d *Dashboard) Open() (*Widget, error) {
	id := uuid.NewString()
	s, err := d.provider.NewSession("widget", session.WithID(id))
	if err != nil {
		return nil, err
	}
	w := &Widget{ID: id, pipeline: host.NewPipeline(s, d.normalizer, d.opts...)}

	d.mu.Lock()
	d.widgets[id] = w
	d.mu.Unlock()
	host.Logger().Debug("widget opened", zap.String("widget", id))
	return w, nil
}

// Get returns the widget with id.
func (d *Dashboard) Get(id string) (*Widget, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.widgets[id]
	return w, ok
}

// Submit compiles req on the widget with id.
func (d *Dashboard) Submit(ctx context.Context, id string, req compiler.Request) (*compiler.Result, error) {
	w, ok := d.Get(id)
	if !ok {
		return nil, fmt.Errorf("widget %s not open", id)
	}
	return w.Submit(ctx, req)
}

// IDs lists open widgets in sorted order.
func (d *Dashboard) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.widgets))
	for id := range d.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseWidget tears down the widget's session. An in-flight call on it is
// aborted.
func (d *Dashboard) CloseWidget(ctx context.Context, id string) error {
	d.mu.Lock()
	w, ok := d.widgets[id]
	delete(d.widgets, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	host.Logger().Debug("widget closed", zap.String("widget", id))
	return w.pipeline.Close(ctx)
}

// Close tears down every widget.
func (d *Dashboard) Close(ctx context.Context) error {
	var first error
	for _, id := range d.IDs() {
		if err := d.CloseWidget(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
