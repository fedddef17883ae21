package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	faultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateEdit modelState = iota
	stateCompiling
	stateShowResult
)

// Result tabs, as on the original dashboard.
const (
	tabCMR = iota
	tabBase64
	tabWitness
	tabMetadata
	tabCount
)

var tabNames = [tabCount]string{"CMR", "Base64", "Witness", "Metadata"}

// Model is the terminal widget: a source editor, a witness editor, and a
// tabbed result view. It compiles on the widget's own session.
type Model struct {
	widget  *Widget
	timeout time.Duration

	source  textarea.Model
	witness textarea.Model
	spinner spinner.Model

	result *compiler.Result
	err    error
	state  modelState
	focus  int
	tab    int
}

type resultMsg struct {
	res *compiler.Result
	err error
}

// NewModel creates the terminal widget for w. timeout bounds each
// compilation; zero means none.
func NewModel(w *Widget, timeout time.Duration) *Model {
	src := textarea.New()
	src.Placeholder = "Simplicity source"
	src.SetValue(bridge.DefaultSource)
	src.SetWidth(72)
	src.SetHeight(10)
	src.Focus()

	wit := textarea.New()
	wit.Placeholder = `{"VALUE": {"value": "42", "type": "u32"}}`
	wit.ShowLineNumbers = false
	wit.SetWidth(72)
	wit.SetHeight(4)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		widget:  w,
		timeout: timeout,
		source:  src,
		witness: wit,
		spinner: sp,
		state:   stateEdit,
	}
}

// Load fills an editor from a file: .simf files go to the source editor,
// .wit and .json files to the witness editor.
func (m *Model) Load(path string) error {
	var dst *textarea.Model
	switch strings.ToLower(filepath.Ext(path)) {
	case ".simf":
		dst = &m.source
	case ".wit", ".json":
		dst = &m.witness
	default:
		return fmt.Errorf("load %s: expected a .simf, .wit or .json file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	dst.SetValue(string(data))
	return nil
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

// compile submits req and reports the outcome as a resultMsg.
func (m *Model) compile(req compiler.Request) tea.Cmd {
	w, timeout := m.widget, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := w.Submit(ctx, req)
		return resultMsg{res: res, err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateShowResult {
				return m, tea.Quit
			}

		case "ctrl+s":
			if m.state == stateEdit {
				m.state = stateCompiling
				req := compiler.Request{Source: m.source.Value(), WitnessData: m.witness.Value()}
				return m, tea.Batch(m.spinner.Tick, m.compile(req))
			}

		case "ctrl+g":
			if m.state == stateEdit {
				m.source.SetValue(bridge.DefaultSource)
				return m, nil
			}

		case "ctrl+r":
			if m.state == stateEdit {
				m.source.Reset()
				return m, nil
			}

		case "ctrl+x":
			if m.state == stateEdit {
				m.witness.Reset()
				return m, nil
			}

		case "tab":
			if m.state == stateEdit {
				m.toggleFocus()
				return m, nil
			}

		case "left", "h":
			if m.state == stateShowResult {
				m.tab = (m.tab + tabCount - 1) % tabCount
				return m, nil
			}

		case "right", "l":
			if m.state == stateShowResult {
				m.tab = (m.tab + 1) % tabCount
				return m, nil
			}

		case "esc", "enter":
			if m.state == stateShowResult {
				m.state = stateEdit
				return m, nil
			}
		}

	case resultMsg:
		m.result = msg.res
		m.err = msg.err
		m.state = stateShowResult
		m.tab = tabCMR
		return m, nil

	case spinner.TickMsg:
		if m.state == stateCompiling {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.state == stateEdit {
		var cmd tea.Cmd
		if m.focus == 0 {
			m.source, cmd = m.source.Update(msg)
		} else {
			m.witness, cmd = m.witness.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) toggleFocus() {
	if m.focus == 0 {
		m.source.Blur()
		m.witness.Focus()
		m.focus = 1
	} else {
		m.witness.Blur()
		m.source.Focus()
		m.focus = 0
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Simplicity Compiler"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render("session " + m.widget.ID))
	b.WriteString("\n\n")

	switch m.state {
	case stateEdit:
		b.WriteString(labelStyle.Render("Source"))
		b.WriteString("\n")
		b.WriteString(m.source.View())
		b.WriteString("\n\n")
		b.WriteString(labelStyle.Render("Witness (JSON, optional)"))
		b.WriteString("\n")
		b.WriteString(m.witness.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("tab switch editor • ctrl+s compile • ctrl+g template • ctrl+r clear source • ctrl+x clear witness • ctrl+c quit"))

	case stateCompiling:
		b.WriteString(m.spinner.View())
		b.WriteString(" Compiling...")

	case stateShowResult:
		b.WriteString(renderOutcome(m.result, m.err))
		if m.err == nil && m.result != nil {
			b.WriteString("\n\n")
			b.WriteString(renderTabs(m.tab))
			b.WriteString("\n\n")
			b.WriteString(renderTab(m.result, m.witness.Value(), m.tab))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("←/→ tabs • enter edit • q quit"))
	}

	return b.String()
}

// renderOutcome separates "your code does not compile" from "the compiler
// itself is broken".
func renderOutcome(res *compiler.Result, err error) string {
	switch {
	case err != nil && errors.IsStartup(err):
		return faultStyle.Render(fmt.Sprintf("Compiler unavailable: %v", err))
	case err != nil:
		return faultStyle.Render(fmt.Sprintf("Compiler failure: %v", err))
	case res.Error != nil:
		return errorStyle.Render("✗ Compilation failed: " + *res.Error)
	default:
		return resultStyle.Render("✓ Compiled")
	}
}

func renderTabs(active int) string {
	parts := make([]string, tabCount)
	for i, name := range tabNames {
		if i == active {
			parts[i] = activeTabStyle.Render(name)
		} else {
			parts[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderTab(res *compiler.Result, witness string, tab int) string {
	switch tab {
	case tabCMR:
		if res.CMR == nil {
			return helpStyle.Render("No CMR: compilation failed")
		}
		return resultStyle.Render(*res.CMR)
	case tabBase64:
		return res.Base64 + "\n" + helpStyle.Render(fmt.Sprintf("Length: %d characters", len(res.Base64)))
	case tabWitness:
		if !res.Metadata.HasWitness {
			return helpStyle.Render("No witness data provided")
		}
		body := strings.TrimSpace(witness)
		if len(res.Witness) > 0 {
			body = string(res.Witness)
		}
		summary := fmt.Sprintf("Witness variables: %d", res.Metadata.WitnessVariables)
		if w, err := compiler.ParseWitness(body); err == nil && len(w) > 0 {
			summary += " (" + strings.Join(w.Names(), ", ") + ")"
		}
		return body + "\n" + helpStyle.Render(summary)
	case tabMetadata:
		b, err := json.MarshalIndent(res.Metadata, "", "  ")
		if err != nil {
			return errorStyle.Render(err.Error())
		}
		return string(b)
	}
	return ""
}
