package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/casadeck/internal/casaos"
)

// appVerb is a lifecycle action or removal.
type appVerb string

const verbRemove appVerb = "remove"

type appActionMsg struct {
	id   string
	name string
	verb appVerb
	err  error
}

// actionLabel is the button text for an app's primary action.
func actionLabel(app casaos.AppInfo) string {
	switch app.PrimaryAction() {
	case casaos.ActionStop:
		return "Stop"
	default:
		return "Start"
	}
}

// transitionalStatus is shown between a successful action and the next poll.
func transitionalStatus(verb appVerb) casaos.AppStatus {
	switch casaos.AppAction(verb) {
	case casaos.ActionStart:
		return casaos.AppStarting
	case casaos.ActionStop:
		return casaos.AppStopping
	case casaos.ActionRestart:
		return casaos.AppRestarting
	}
	return ""
}

func progressive(verb appVerb) string {
	switch verb {
	case appVerb(casaos.ActionStart):
		return "Starting"
	case appVerb(casaos.ActionStop):
		return "Stopping"
	case appVerb(casaos.ActionRestart):
		return "Restarting"
	default:
		return "Removing"
	}
}

func (m Model) selectedApp() (casaos.AppInfo, bool) {
	if m.selectedRow < 0 || m.selectedRow >= len(m.snapshot.Apps) {
		return casaos.AppInfo{}, false
	}
	return m.snapshot.Apps[m.selectedRow], true
}

func (m *Model) clampSelection() {
	n := len(m.snapshot.Apps)
	if m.selectedRow >= n {
		m.selectedRow = n - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
}

// handleAppsKey processes keyboard input for the apps view.
func (m Model) handleAppsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	count := len(m.snapshot.Apps)
	if count == 0 {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		if m.selectedRow < count-1 {
			m.selectedRow++
		}
	case key.Matches(msg, m.keys.Up):
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case key.Matches(msg, m.keys.Top):
		m.selectedRow = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selectedRow = count - 1
	case key.Matches(msg, m.keys.Toggle):
		app, ok := m.selectedApp()
		if !ok {
			return m, nil
		}
		return m.runAppAction(app, appVerb(app.PrimaryAction()))
	case key.Matches(msg, m.keys.Restart):
		app, ok := m.selectedApp()
		if !ok {
			return m, nil
		}
		return m.runAppAction(app, appVerb(casaos.ActionRestart))
	case key.Matches(msg, m.keys.Remove):
		if app, ok := m.selectedApp(); ok && !m.pending[app.ID] {
			m.confirmRemove = app.ID
		}
	}
	return m, nil
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.confirmRemove
	switch {
	case key.Matches(msg, m.keys.Yes):
		m.confirmRemove = ""
		app, ok := m.snapshot.App(id)
		if !ok {
			return m, nil
		}
		return m.runAppAction(app, verbRemove)
	case key.Matches(msg, m.keys.No):
		m.confirmRemove = ""
	}
	return m, nil
}

// runAppAction dispatches an action unless one is already in flight for the
// same app.
func (m Model) runAppAction(app casaos.AppInfo, verb appVerb) (tea.Model, tea.Cmd) {
	if m.pending[app.ID] {
		return m, nil
	}
	api, err := m.api()
	if err != nil {
		m.flash = flash{text: errorText(err), isErr: true}
		return m, nil
	}
	pending := make(map[string]bool, len(m.pending)+1)
	for k, v := range m.pending {
		pending[k] = v
	}
	pending[app.ID] = true
	m.pending = pending
	m.flash = flash{text: fmt.Sprintf("%s %s...", progressive(verb), displayName(app))}
	return m, appActionCmd(m.ctx, api, app, verb)
}

func (m Model) api() (casaos.API, error) {
	if m.sessions == nil {
		return nil, fmt.Errorf("not connected")
	}
	c, err := m.sessions.Client()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m Model) handleAppAction(msg appActionMsg) (tea.Model, tea.Cmd) {
	pending := make(map[string]bool, len(m.pending))
	for k, v := range m.pending {
		if k != msg.id {
			pending[k] = v
		}
	}
	m.pending = pending

	if msg.err != nil {
		m.flash = flash{text: fmt.Sprintf("%s %s failed: %s", strings.ToLower(progressive(msg.verb)), msg.name, errorText(msg.err)), isErr: true}
		return m, nil
	}

	if status := transitionalStatus(msg.verb); status != "" {
		m.store.SetAppStatus(msg.id, status)
	}
	m.flash = flash{text: fmt.Sprintf("%s %s requested", strings.ToLower(progressive(msg.verb)), msg.name)}
	m.triggerRefresh()
	return m, fetchSnapshotCmd(m.store)
}

func appActionCmd(ctx context.Context, api casaos.API, app casaos.AppInfo, verb appVerb) tea.Cmd {
	return func() tea.Msg {
		var err error
		if verb == verbRemove {
			err = api.RemoveApp(ctx, app.ID)
		} else {
			err = api.AppAction(ctx, app.ID, casaos.AppAction(verb))
		}
		return appActionMsg{id: app.ID, name: displayName(app), verb: verb, err: err}
	}
}

func displayName(app casaos.AppInfo) string {
	if strings.TrimSpace(app.Name) != "" {
		return app.Name
	}
	return app.ID
}

// renderApps renders the app table.
func (m Model) renderApps() string {
	styles := m.theme.Styles()
	snap := m.snapshot

	if !snap.HasApps {
		if snap.LastError != nil {
			return styles.DangerText.Render("Could not load apps: " + errorText(snap.LastError))
		}
		return styles.MutedText.Render("Loading apps...")
	}
	if len(snap.Apps) == 0 {
		return styles.MutedText.Render("No apps installed.")
	}

	width := max(40, m.width-2)
	statusW, portW, actionW := 12, 7, 8
	nameW := max(12, (width-statusW-portW-actionW)/2)
	descW := max(0, width-statusW-portW-actionW-nameW-4)

	var b strings.Builder
	header := padRight("STATUS", statusW) + " " + padRight("NAME", nameW) + " " +
		padRight("PORT", portW) + " " + padRight("ACTION", actionW)
	if descW > 10 {
		header += " DESCRIPTION"
	}
	b.WriteString(styles.MutedText.Bold(true).Render(header))
	b.WriteString("\n")

	visible := max(1, m.contentHeight()-2)
	start := 0
	if m.selectedRow >= visible {
		start = m.selectedRow - visible + 1
	}
	end := min(len(snap.Apps), start+visible)

	for i := start; i < end; i++ {
		app := snap.Apps[i]
		badge := styles.StatusStyle(app.Status).Width(statusW).Render(truncate(app.Status.Label(), statusW-2))

		action := actionLabel(app)
		if m.pending[app.ID] {
			action = "..."
		}
		port := ""
		if app.Port > 0 {
			port = strconv.Itoa(app.Port)
		}
		row := " " + padRight(truncate(displayName(app), nameW), nameW) + " " +
			padRight(port, portW) + " " + padRight("["+action+"]", actionW)
		if descW > 10 {
			row += " " + truncate(app.Description, descW)
		}

		if i == m.selectedRow {
			row = styles.Selected.Width(width - statusW).Render(row)
		} else {
			row = styles.Text.Render(row)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, badge, row))
		b.WriteString("\n")
	}

	if m.confirmRemove != "" {
		name := m.confirmRemove
		if app, ok := snap.App(m.confirmRemove); ok {
			name = displayName(app)
		}
		b.WriteString("\n")
		b.WriteString(styles.WarningText.Bold(true).Render(fmt.Sprintf("Remove %s? [y/N]", name)))
	}
	return b.String()
}
