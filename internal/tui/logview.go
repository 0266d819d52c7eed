// Package tui renders the host's log output and module table full screen.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/logbuf"
	"github.com/mattjoyce/bert/internal/registry"
)

// DefaultTick is how often the view polls for new log lines.
const DefaultTick = 100 * time.Millisecond

const maxLines = 2000

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	moduleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	dynamicStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	levelStyles = map[string]lipgloss.Style{
		"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFFF")),
		"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	}
)

// --- Types ---

// LogSource yields log lines newer than a sequence number.
type LogSource interface {
	Since(seq int64) []logbuf.Line
}

// ModuleLister yields the current module table.
type ModuleLister interface {
	Snapshot() []host.ModuleInfo
}

// Model is the bubbletea model for the log viewer.
type Model struct {
	title   string
	logs    LogSource
	modules ModuleLister
	tick    time.Duration

	width  int
	height int

	lines    []string
	lastSeq  int64
	mods     []host.ModuleInfo
	viewport viewport.Model
	ready    bool
}

type tickMsg time.Time

// --- Init ---

// New creates a log viewer over logs and modules. A non-positive tick
// uses DefaultTick.
func New(title string, logs LogSource, modules ModuleLister, tick time.Duration) Model {
	if tick <= 0 {
		tick = DefaultTick
	}
	return Model{
		title:   title,
		logs:    logs,
		modules: modules,
		tick:    tick,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), tea.EnterAltScreen)
}

// Run runs the viewer until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, m.tickCmd()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) resize() {
	headerHeight := lipgloss.Height(m.renderHeader())
	// Border (2) and help line (1).
	vh := max(m.height-headerHeight-3, 1)
	vw := max(m.width-4, 1)
	if !m.ready {
		m.viewport = viewport.New(vw, vh)
		m.ready = true
		return
	}
	m.viewport.Width = vw
	m.viewport.Height = vh
}

// refresh pulls new log lines and the module table.
func (m *Model) refresh() {
	if m.modules != nil {
		m.mods = m.modules.Snapshot()
	}
	if m.logs == nil {
		return
	}
	fresh := m.logs.Since(m.lastSeq)
	if len(fresh) == 0 {
		return
	}
	for _, l := range fresh {
		m.lines = append(m.lines, formatLine(l.Text))
		m.lastSeq = l.Seq
	}
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}

	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

// --- View ---

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	logs := borderStyle.Width(m.width - 4).Render(m.viewport.View())
	help := helpStyle.Render(" [q/esc] Quit • [↑/↓/pgup/pgdn] Scroll")

	return docStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			logs,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	parts := make([]string, 0, len(m.mods))
	for _, info := range m.mods {
		style := moduleStyle
		if info.Origin.Kind == registry.OriginDynamic {
			style = dynamicStyle
		}
		parts = append(parts, fmt.Sprintf("%s %v", style.Render(info.Name), info.CommandNames()))
	}
	modules := "no modules"
	if len(parts) > 0 {
		modules = strings.Join(parts, "  ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(m.title),
		fmt.Sprintf(" Modules (%d): %s", len(m.mods), modules),
	)
}

// formatLine renders a slog JSON record as "time LEVEL msg key=value".
// Anything else is returned unchanged.
func formatLine(text string) string {
	if !strings.HasPrefix(text, "{") {
		return text
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return text
	}

	ts, _ := rec["time"].(string)
	level, _ := rec["level"].(string)
	msg, _ := rec["msg"].(string)
	delete(rec, "time")
	delete(rec, "level")
	delete(rec, "msg")

	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		ts = t.Format("15:04:05.000")
	}
	lvl := fmt.Sprintf("%-5s", level)
	if style, ok := levelStyles[level]; ok {
		lvl = style.Render(lvl)
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", ts, lvl, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, rec[k])
	}
	return b.String()
}

// --- Commands ---

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
