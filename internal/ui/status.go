package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// usage thresholds for bar colors
const (
	usageWarn   = 75.0
	usageDanger = 90.0
)

// renderStatus renders system information as usage bars.
func (m Model) renderStatus() string {
	styles := m.theme.Styles()
	snap := m.snapshot

	if !snap.HasSystem {
		if snap.LastError != nil {
			return styles.DangerText.Render("Could not load system info: " + errorText(snap.LastError))
		}
		return styles.MutedText.Render("Loading system info...")
	}

	sys := snap.System
	barWidth := min(60, max(10, m.width-40))
	labelW := 8

	var rows []string
	cpuDetail := fmt.Sprintf("%.1f%%", UsagePercent(sys.CPU.Usage, 0, 0))
	if sys.CPU.Cores > 0 {
		cpuDetail += fmt.Sprintf("  %d cores", sys.CPU.Cores)
	}
	rows = append(rows, m.usageRow(styles, "CPU", labelW, barWidth, UsagePercent(sys.CPU.Usage, 0, 0), cpuDetail))

	memPct := UsagePercent(sys.Memory.UsagePercent, sys.Memory.Used, sys.Memory.Total)
	rows = append(rows, m.usageRow(styles, "Memory", labelW, barWidth, memPct,
		fmt.Sprintf("%s / %s", FormatBytes(sys.Memory.Used), FormatBytes(sys.Memory.Total))))

	diskPct := UsagePercent(sys.Disk.UsagePercent, sys.Disk.Used, sys.Disk.Total)
	rows = append(rows, m.usageRow(styles, "Disk", labelW, barWidth, diskPct,
		fmt.Sprintf("%s / %s", FormatBytes(sys.Disk.Used), FormatBytes(sys.Disk.Total))))

	var info []string
	if sys.CPU.Model != "" {
		info = append(info, kv(styles, "Processor", sys.CPU.Model))
	}
	info = append(info, kv(styles, "Uptime", FormatUptime(sys.UptimeDuration())))
	if sys.Version != "" {
		info = append(info, kv(styles, "CasaOS", sys.Version))
	}
	if snap.HasApps {
		info = append(info, kv(styles, "Apps", fmt.Sprintf("%d running / %d installed", snap.RunningApps(), len(snap.Apps))))
	}

	title := styles.AccentText.Bold(true).Render("System")
	usage := styles.Panel.Render(strings.Join(rows, "\n"))
	details := styles.Panel.Render(strings.Join(info, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, title, usage, details)
}

func (m Model) usageRow(styles Styles, label string, labelW, barWidth int, pct float64, detail string) string {
	bar := m.bar
	bar.Width = barWidth
	switch {
	case pct >= usageDanger:
		bar.FullColor = m.theme.Danger
	case pct >= usageWarn:
		bar.FullColor = m.theme.Warning
	default:
		bar.FullColor = m.theme.Success
	}
	bar.EmptyColor = m.theme.Faint
	return styles.MutedText.Render(padRight(label, labelW)) + bar.ViewAs(pct/100) + "  " + styles.Text.Render(detail)
}

func kv(styles Styles, k, v string) string {
	return styles.MutedText.Render(padRight(k, 11)) + styles.Text.Render(v)
}
