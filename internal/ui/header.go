package ui

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/casadeck/internal/casaos"
)

// compactWidth is the terminal width below which the header drops detail.
const compactWidth = 100

// renderHeader renders the status bar.
func (m Model) renderHeader() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)
	compact := m.width < compactWidth

	parts := []string{bg.Render("casadeck", styles.Logo)}
	parts = append(parts, m.connectionBadge(styles, bg))

	if sess, ok := m.currentSession(); ok {
		limit := 40
		if compact {
			limit = 24
		}
		parts = append(parts, bg.Render(truncateMiddle(sess.Config.BaseURL(), limit), styles.InfoText))
	}

	if m.snapshot.HasApps {
		parts = append(parts,
			bg.Render("Apps:", styles.MutedText)+bg.Space()+
				bg.Render(fmt.Sprintf("%d/%d", m.snapshot.RunningApps(), len(m.snapshot.Apps)), styles.Text))
	}

	if !compact && m.snapshot.HasSystem && m.snapshot.System.Version != "" {
		parts = append(parts, bg.Render("v"+strings.TrimPrefix(m.snapshot.System.Version, "v"), styles.MutedText))
	}

	if !m.lastUpdated.IsZero() {
		parts = append(parts, bg.Render(lastUpdatedLabel(m.lastUpdated, time.Now()), styles.MutedText))
	}

	if err := m.snapshot.LastError; err != nil && !compact {
		parts = append(parts,
			bg.Render("ERROR", styles.DangerText.Bold(true))+bg.Space()+
				bg.Render(truncate(errorText(err), 60), styles.DangerText))
	}

	return styles.Header.Width(m.width).Render(bg.Join(parts, "  "))
}

func (m Model) connectionBadge(styles Styles, bg BgStyle) string {
	sess, ok := m.currentSession()
	switch {
	case m.busy:
		return bg.Render(m.spinner.View()+" CONNECTING", styles.WarningText.Bold(true))
	case !ok:
		return bg.Render("○ DISCONNECTED", styles.MutedText)
	case casaos.IsKind(m.snapshot.LastError, casaos.KindAuth):
		return bg.Render("● AUTH EXPIRED", styles.WarningText.Bold(true))
	case m.snapshot.IsOffline():
		return bg.Render("● "+classifyConnectionError(m.snapshot.LastError), styles.DangerText)
	case !sess.Authenticated:
		return bg.Render("● ONLINE (anonymous)", styles.InfoText)
	default:
		return bg.Render("● ONLINE", styles.SuccessText)
	}
}

// classifyConnectionError returns a short description of a poll failure.
func classifyConnectionError(err error) string {
	if err == nil {
		return ""
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "HOST NOT FOUND"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "OFFLINE"
	case strings.Contains(msg, "no such host"):
		return "HOST NOT FOUND"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "TIMEOUT"
	case strings.Contains(msg, "certificate"):
		return "TLS ERROR"
	}
	if casaos.IsKind(err, casaos.KindProtocol) {
		return "BAD RESPONSE"
	}
	return "OFFLINE"
}

// renderCommandBar renders the view tabs and key hints.
func (m Model) renderCommandBar() string {
	styles := m.theme.Styles().WithBackground(m.theme.SurfaceAlt)
	bg := NewBgStyle(m.theme.SurfaceAlt)

	if m.screen == screenLogin {
		return lipgloss.NewStyle().Background(lipgloss.Color(m.theme.SurfaceAlt)).Width(m.width).
			Render(bg.Render("Log in to a CasaOS server", styles.MutedText))
	}

	tabs := []struct {
		key   string
		label string
		s     screen
	}{
		{"s", "Status", screenStatus},
		{"a", "Apps", screenApps},
		{"l", "Logs", screenLogs},
		{"c", "Settings", screenSettings},
	}
	var parts []string
	for _, t := range tabs {
		style := styles.MutedText
		if t.s == m.screen {
			style = styles.AccentText.Bold(true)
		}
		parts = append(parts, bg.Render("<"+t.key+">", styles.FaintText)+bg.Render(t.label, style))
	}

	type cmd struct{ key, desc string }
	var commands []cmd
	switch m.screen {
	case screenApps:
		label := "Start/Stop"
		if app, ok := m.selectedApp(); ok {
			label = actionLabel(app)
		}
		commands = []cmd{{"enter", label}, {"R", "Restart"}, {"x", "Remove"}, {"j/k", "Navigate"}}
	case screenLogs:
		follow := "Pause"
		if !m.logs.follow {
			follow = "Follow"
		}
		source := "Client log"
		if m.logs.source == logSourceClient {
			source = "App log"
		}
		commands = []cmd{{"Space", follow}, {"i", source}, {"r", "Reload"}}
	case screenSettings:
		commands = []cmd{{"enter", "Save"}, {"ctrl+t", "Test"}, {"esc", "Back"}}
	default:
		commands = []cmd{{"r", "Refresh"}, {"L", "Logout"}}
	}
	commands = append(commands, cmd{"?", "More"})

	for _, c := range commands {
		parts = append(parts, bg.Render("<"+c.key+">", styles.WarningText)+bg.Space()+bg.Render(c.desc, styles.MutedText))
	}

	return lipgloss.NewStyle().Background(lipgloss.Color(m.theme.SurfaceAlt)).Width(m.width).
		Render(bg.Join(parts, "  "))
}

// renderFooter shows the latest flash message.
func (m Model) renderFooter() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	text := m.flash.text
	style := styles.MutedText
	if m.flash.isErr {
		style = styles.DangerText
	}
	if text == "" && casaos.IsKind(m.snapshot.LastError, casaos.KindAuth) {
		text = "Session rejected by the server. Press L to log in again."
		style = styles.WarningText
	}
	return styles.Footer.Width(m.width).Render(style.Render(truncate(text, max(0, m.width-2))))
}
