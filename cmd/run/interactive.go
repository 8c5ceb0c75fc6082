package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/modules/console"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// entry is one evaluated snippet with its output.
type entry struct {
	source string
	logs   []string
	err    error
}

type replModel struct {
	cage       *cage.Cage
	moduleList string
	baseURL    string
	input      textinput.Model
	history    []entry
	err        error
	evaluating bool
}

type evalDoneMsg struct {
	entry entry
}

func newReplModel(c *cage.Cage, moduleList, baseURL string) *replModel {
	ti := textinput.New()
	ti.Placeholder = `console.log("hello")`
	ti.Prompt = "js> "
	ti.Width = 72
	ti.Focus()

	return &replModel{
		cage:       c,
		moduleList: moduleList,
		baseURL:    baseURL,
		input:      ti,
	}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			if m.evaluating {
				return m, nil
			}
			source := strings.TrimSpace(m.input.Value())
			if source == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.evaluating = true
			return m, m.evalCmd(source)
		}

	case evalDoneMsg:
		m.evaluating = false
		m.history = append(m.history, msg.entry)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// evalCmd runs one snippet in a fresh evaluation. Each snippet gets its
// own runtime, so REPL entries share no state; this keeps the sandbox
// semantics honest at the cost of cross-line variables.
func (m *replModel) evalCmd(source string) tea.Cmd {
	return func() tea.Msg {
		cons := console.New()
		modules, err := buildModules(cons, m.moduleList, m.baseURL)
		if err != nil {
			return evalDoneMsg{entry: entry{source: source, err: err}}
		}

		result := m.cage.RunCode(context.Background(), source, modules)

		e := entry{source: source, err: result.Err}
		for _, line := range cons.Lines() {
			e.logs = append(e.logs, fmt.Sprintf("[%s] %s", line.Level, console.FormatAll(line.Args)))
		}
		return evalDoneMsg{entry: e}
	}
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("JS Cage"))
	b.WriteString("\n\n")

	for _, e := range m.history {
		b.WriteString(promptStyle.Render("js> " + e.source))
		b.WriteString("\n")
		for _, line := range e.logs {
			b.WriteString(logStyle.Render(line))
			b.WriteString("\n")
		}
		if e.err != nil {
			b.WriteString(errorStyle.Render("Error: " + e.err.Error()))
			b.WriteString("\n")
		}
	}

	if m.evaluating {
		b.WriteString(helpStyle.Render("evaluating..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter evaluate • ctrl+c quit"))
	return b.String()
}

func runInteractive(enginePath, moduleList, baseURL string) error {
	ctx := context.Background()
	c, err := cage.NewFromEnginePath(ctx, enginePath)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	p := tea.NewProgram(newReplModel(c, moduleList, baseURL), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
