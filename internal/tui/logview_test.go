package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/logbuf"
	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/registry"
)

type staticModules []host.ModuleInfo

func (s staticModules) Snapshot() []host.ModuleInfo { return s }

func newModel(buf *logbuf.Buffer) Model {
	mods := staticModules{
		{Name: "base", Commands: []module.Command{{Name: "ping"}}, Origin: registry.Origin{Kind: registry.OriginBuiltin}},
		{Name: "greeter", Commands: []module.Command{{Name: "hello"}}, Origin: registry.Origin{Kind: registry.OriginDynamic}},
	}
	return New("bert", buf, mods, 0)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestViewBeforeResize(t *testing.T) {
	m := newModel(logbuf.New(10))
	assert.Equal(t, "Initializing...", m.View())
	assert.Equal(t, DefaultTick, m.tick)
}

func TestTickPullsLogsAndModules(t *testing.T) {
	buf := logbuf.New(10)
	m := newModel(buf)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 20})

	_, _ = buf.Write([]byte(`{"time":"2026-01-02T03:04:05.123Z","level":"INFO","msg":"Loaded module 'greeter' with commands: [hello]"}` + "\n"))
	_, _ = buf.Write([]byte("plain line\n"))

	m, cmd := update(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd, "tick must schedule the next tick")

	view := m.View()
	assert.Contains(t, view, "Modules (2)")
	assert.Contains(t, view, "greeter [hello]")
	assert.Contains(t, view, "Loaded module 'greeter' with commands: [hello]")
	assert.Contains(t, view, "plain line")
	assert.Equal(t, int64(2), m.lastSeq)

	m, _ = update(t, m, tickMsg(time.Now()))
	assert.Len(t, m.lines, 2, "lines already shown must not be appended twice")
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		t.Run(key.String(), func(t *testing.T) {
			_, cmd := update(t, newModel(logbuf.New(1)), key)
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
		})
	}
}

func TestFormatLine(t *testing.T) {
	got := formatLine(`{"time":"2026-01-02T03:04:05.5Z","level":"WARN","msg":"hot reload failed","path":"/m/a.so","component":"watch"}`)
	assert.True(t, strings.HasPrefix(got, "03:04:05.500 "), got)
	assert.Contains(t, got, "hot reload failed component=watch path=/m/a.so")

	assert.Equal(t, "not json", formatLine("not json"))
	assert.Equal(t, "{broken", formatLine("{broken"))
}
