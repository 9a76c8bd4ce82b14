package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) renderLogin() string {
	styles := m.theme.Styles()
	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render("Connect to CasaOS"))
	b.WriteString("\n\n")
	b.WriteString(m.login.view(styles, min(70, m.width-4), m.busy))
	b.WriteString("\n")
	b.WriteString(m.busyLine(styles))
	b.WriteString(styles.FaintText.Render("enter connect  ctrl+t test  tab next field  ctrl+c quit"))
	return m.center(styles.FocusPanel.Render(b.String()))
}

func (m Model) renderSettings() string {
	styles := m.theme.Styles()
	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render("Server settings"))
	b.WriteString("\n")
	if sess, ok := m.currentSession(); ok {
		mode := "anonymous"
		if sess.Authenticated {
			mode = "authenticated"
		}
		b.WriteString(styles.MutedText.Render("Connected to " + sess.Config.BaseURL() + " (" + mode + ")"))
	} else {
		b.WriteString(styles.MutedText.Render("Not connected"))
	}
	b.WriteString("\n\n")
	b.WriteString(m.settings.view(styles, min(70, m.width-4), m.busy))
	b.WriteString("\n")
	b.WriteString(m.busyLine(styles))
	b.WriteString(styles.FaintText.Render("enter save & reconnect  ctrl+t test  esc back"))
	return styles.Panel.Render(b.String())
}

func (m Model) busyLine(styles Styles) string {
	if !m.busy {
		return ""
	}
	return m.spinner.View() + " " + styles.WarningText.Render(m.busyLabel) +
		styles.FaintText.Render("  esc cancel") + "\n"
}

func (m Model) center(content string) string {
	return lipgloss.Place(m.width, m.contentHeight(), lipgloss.Center, lipgloss.Center, content)
}
