package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/logtail"
)

type logSource int

const (
	logSourceApp logSource = iota
	logSourceClient
)

type logsState struct {
	appID    string
	appName  string
	source   logSource
	lines    []string
	follow   bool
	loading  bool
	seq      uint64
	err      string
	viewport viewport.Model
}

func newLogsState() logsState {
	return logsState{follow: true, viewport: viewport.New(0, 0)}
}

type logsMsg struct {
	seq   uint64
	lines []string
	err   error
}

// openLogs switches to the log view for the selected app. Without a
// selection it shows the client log.
func (m Model) openLogs() (tea.Model, tea.Cmd) {
	m.screen = screenLogs
	if app, ok := m.selectedApp(); ok {
		if app.ID != m.logs.appID {
			m.logs.lines = nil
			m.logs.err = ""
		}
		m.logs.appID = app.ID
		m.logs.appName = displayName(app)
		m.logs.source = logSourceApp
	} else if m.logs.appID == "" {
		m.logs.source = logSourceClient
	}
	m.resizeLogViewport()
	cmd := m.refreshLogs()
	return m, cmd
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleFollow):
		m.logs.follow = !m.logs.follow
		if m.logs.follow {
			m.logs.viewport.GotoBottom()
		}
		return m, nil
	case key.Matches(msg, m.keys.ToggleLogSource):
		if m.logs.source == logSourceApp || m.logs.appID == "" {
			m.logs.source = logSourceClient
		} else {
			m.logs.source = logSourceApp
		}
		m.logs.lines = nil
		m.logs.err = ""
		cmd := m.refreshLogs()
	return m, cmd
	case key.Matches(msg, m.keys.Top):
		m.logs.follow = false
		m.logs.viewport.GotoTop()
		return m, nil
	case key.Matches(msg, m.keys.Bottom):
		m.logs.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.logs.viewport, cmd = m.logs.viewport.Update(msg)
	if !m.logs.viewport.AtBottom() {
		m.logs.follow = false
	}
	return m, cmd
}

// refreshLogs starts a fetch, superseding any in flight.
func (m *Model) refreshLogs() tea.Cmd {
	m.logs.seq++
	m.logs.loading = true
	return m.fetchLogsCmd(m.logs.seq)
}

func (m *Model) fetchLogsCmd(seq uint64) tea.Cmd {
	limit := m.prefs.LogLines
	switch m.logs.source {
	case logSourceClient:
		path := ""
		if m.config != nil {
			path = m.config.LogFile
		}
		return func() tea.Msg {
			if path == "" {
				return logsMsg{seq: seq, err: fmt.Errorf("no client log file configured")}
			}
			lines, err := logtail.Read(path, limit)
			return logsMsg{seq: seq, lines: lines, err: err}
		}
	default:
		api, err := m.api()
		if err != nil {
			return func() tea.Msg { return logsMsg{seq: seq, err: err} }
		}
		return appLogsCmd(m.ctx, api, m.logs.appID, limit, seq)
	}
}

func appLogsCmd(ctx context.Context, api casaos.API, id string, limit int, seq uint64) tea.Cmd {
	return func() tea.Msg {
		body, err := api.AppLogs(ctx, id, limit)
		if err != nil {
			return logsMsg{seq: seq, err: err}
		}
		return logsMsg{seq: seq, lines: logtail.Split(body, limit)}
	}
}

func (m *Model) handleLogs(msg logsMsg) {
	if msg.seq != m.logs.seq {
		return
	}
	m.logs.loading = false
	if msg.err != nil {
		m.logs.err = errorText(msg.err)
		return
	}
	m.logs.err = ""
	m.logs.lines = msg.lines
	m.logs.viewport.SetContent(m.styledLogLines())
	if m.logs.follow {
		m.logs.viewport.GotoBottom()
	}
}

func (m Model) styledLogLines() string {
	styles := m.theme.Styles()
	out := make([]string, len(m.logs.lines))
	for i, line := range m.logs.lines {
		switch logtail.DetectLevel(line) {
		case logtail.LevelError:
			out[i] = styles.DangerText.Render(line)
		case logtail.LevelWarn:
			out[i] = styles.WarningText.Render(line)
		case logtail.LevelDebug:
			out[i] = styles.FaintText.Render(line)
		default:
			out[i] = styles.Text.Render(line)
		}
	}
	return strings.Join(out, "\n")
}

func (m *Model) resizeLogViewport() {
	m.logs.viewport.Width = max(10, m.width)
	m.logs.viewport.Height = max(1, m.contentHeight()-2)
}

func (m Model) logTitle() string {
	if m.logs.source == logSourceClient {
		return "casadeck client log"
	}
	return "App logs: " + m.logs.appName
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	var b strings.Builder

	mode := "paused"
	if m.logs.follow {
		mode = "following"
	}
	b.WriteString(styles.AccentText.Bold(true).Render(m.logTitle()))
	b.WriteString(styles.MutedText.Render(fmt.Sprintf("  (%d lines, %s)", len(m.logs.lines), mode)))
	b.WriteString("\n")
	if m.logs.err != "" {
		b.WriteString(styles.DangerText.Render(m.logs.err))
	}
	b.WriteString("\n")

	switch {
	case len(m.logs.lines) == 0 && m.logs.loading:
		b.WriteString(styles.MutedText.Render("Loading logs..."))
	case len(m.logs.lines) == 0:
		b.WriteString(styles.MutedText.Render("No log output."))
	default:
		b.WriteString(m.logs.viewport.View())
	}
	return b.String()
}
