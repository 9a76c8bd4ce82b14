// Package ui provides the casadeck terminal user interface.
//
// The UI is a Bubble Tea program. Model holds all view state and never
// blocks: network work runs as tea.Cmd functions and reports back with
// messages.
//
// # Screens
//
//   - Login: server address, port, HTTPS toggle and optional credentials.
//     HTTPS switches on by itself for port 443 unless the user flips it or
//     types a scheme.
//   - Status: CPU, memory and disk usage bars, uptime and CasaOS version.
//   - Apps: installed apps with their status. Enter stops a running app and
//     starts anything else, R restarts, x removes after confirmation.
//   - Logs: the selected app's log output, or casadeck's own log file.
//   - Settings: edit the server and reconnect, or test the connection
//     without logging in.
//
// # Negotiation
//
// Connecting and testing are dispatched with a sequence number. The form's
// submit control is disabled while one is in flight, esc cancels it, and a
// result whose sequence number is no longer current is dropped. On teardown
// Run cancels the root context so in-flight results are discarded by the
// session manager.
//
// # Data
//
// Server data comes from state.Store, filled by the background poller. The
// model re-reads a snapshot on every tick and asks the poller for an
// immediate refresh after login and after app actions.
package ui
