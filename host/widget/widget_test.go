package widget

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/compiler"
	bridgeerrors "github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/registry"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/session"
	"github.com/wippyai/simplicity-bridge/testbed"
)

func newDashboard(t *testing.T) (*Dashboard, *host.Metrics) {
	t.Helper()
	dist := testbed.Dist(testbed.Options{}, "0123abcd", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	m := host.NewMetrics(prometheus.NewRegistry())
	p := host.NewProvider(registry.New(dist, registry.Strict), runtime.New(runtime.Config{}), m)
	d := NewDashboard(p, compiler.NewNormalizer(bridge.ModeDebug), host.WithMetrics(m))
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, m
}

func TestDashboard_WidgetsAreIsolated(t *testing.T) {
	ctx := context.Background()
	d, m := newDashboard(t)

	a, err := d.Open()
	require.NoError(t, err)
	b, err := d.Open()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ID, a.Session().ID())

	for i := 0; i < 3; i++ {
		res, err := d.Submit(ctx, a.ID, compiler.Request{Source: bridge.DefaultSource})
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.Equal(t, bridge.ModeDebug, res.Metadata.Mode)
	}
	assert.Equal(t, session.StateReady, a.Session().State())
	assert.Equal(t, session.StateUninstantiated, b.Session().State())
	assert.Equal(t, int64(1), a.Session().Instantiations())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sessions.WithLabelValues("widget")))

	require.NoError(t, d.CloseWidget(ctx, a.ID))
	assert.Equal(t, session.StateClosed, a.Session().State())
	_, err = d.Submit(ctx, a.ID, compiler.Request{Source: "mod"})
	assert.Error(t, err)

	res, err := b.Submit(ctx, compiler.Request{Source: "mod"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, []string{b.ID}, d.IDs())
}

func TestDashboard_OpenAmbiguousBuild(t *testing.T) {
	now := time.Now()
	dist := testbed.Dist(testbed.Options{}, "0123abcd", now)
	for name, f := range testbed.Dist(testbed.Options{}, "4567cdef", now) {
		dist[name] = f
	}
	p := host.NewProvider(registry.New(dist, registry.Strict), runtime.New(runtime.Config{}), nil)
	d := NewDashboard(p, nil)

	w, err := d.Open()
	assert.Nil(t, w)
	assert.ErrorIs(t, err, bridgeerrors.ErrAssetAmbiguous)
	assert.Empty(t, d.IDs())
}

func TestModel_CompileFlow(t *testing.T) {
	d, _ := newDashboard(t)
	w, err := d.Open()
	require.NoError(t, err)
	m := NewModel(w, time.Minute)

	assert.Contains(t, m.View(), "Source")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	assert.Equal(t, stateCompiling, m.state)
	assert.Contains(t, m.View(), "Compiling")

	msg := m.compile(compiler.Request{Source: m.source.Value(), WitnessData: m.witness.Value()})()
	m.Update(msg)
	assert.Equal(t, stateShowResult, m.state)
	view := m.View()
	assert.Contains(t, view, "Compiled")
	assert.Contains(t, view, testbed.CMR)

	m.Update(tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, tabBase64, m.tab)
	assert.Contains(t, m.View(), "Length:")

	m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	assert.Equal(t, tabMetadata, m.tab)
	assert.Contains(t, m.View(), `"sourceSizeBytes"`)

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateEdit, m.state)
}

func TestRenderOutcome(t *testing.T) {
	msg := "Parse error: missing module"
	assert.Contains(t, renderOutcome(&compiler.Result{Error: &msg}, nil), "Compilation failed: "+msg)
	assert.Contains(t, renderOutcome(nil, bridgeerrors.AssetMissing("none")), "unavailable")
	assert.Contains(t, renderOutcome(nil, bridgeerrors.Invocation("trap", nil)), "Compiler failure")
}

func TestRenderTab_Witness(t *testing.T) {
	cmr := "ab"
	res := &compiler.Result{CMR: &cmr, Metadata: compiler.Metadata{HasWitness: true, WitnessVariables: 1}}
	out := renderTab(res, ` {"x":{"value":"1"}} `, tabWitness)
	assert.True(t, strings.HasPrefix(out, `{"x":{"value":"1"}}`))
	assert.Contains(t, out, "Witness variables: 1 (x)")

	res.Metadata.HasWitness = false
	assert.Contains(t, renderTab(res, "", tabWitness), "No witness")
}

func TestModel_EditorActions(t *testing.T) {
	d, _ := newDashboard(t)
	w, err := d.Open()
	require.NoError(t, err)
	m := NewModel(w, 0)
	m.witness.SetValue(`{"x":{"value":"1"}}`)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Empty(t, m.source.Value())

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	assert.Equal(t, bridge.DefaultSource, m.source.Value())

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Empty(t, m.witness.Value())
	assert.Equal(t, bridge.DefaultSource, m.source.Value())
	assert.Contains(t, m.View(), "ctrl+g template")
}

func TestModel_Load(t *testing.T) {
	d, _ := newDashboard(t)
	w, err := d.Open()
	require.NoError(t, err)
	m := NewModel(w, 0)

	dir := t.TempDir()
	src := filepath.Join(dir, "p2pk.simf")
	wit := filepath.Join(dir, "p2pk.wit")
	require.NoError(t, os.WriteFile(src, []byte("mod witness {}"), 0o644))
	require.NoError(t, os.WriteFile(wit, []byte(`{"SIG":{"value":"0x00"}}`), 0o644))

	require.NoError(t, m.Load(src))
	require.NoError(t, m.Load(wit))
	assert.Equal(t, "mod witness {}", m.source.Value())
	assert.Equal(t, `{"SIG":{"value":"0x00"}}`, m.witness.Value())

	assert.Error(t, m.Load(filepath.Join(dir, "notes.txt")))
	assert.Error(t, m.Load(filepath.Join(dir, "missing.simf")))
}
