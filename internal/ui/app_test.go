package ui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/session"
	"github.com/five82/casadeck/internal/state"
)

type countingRefresher struct{ n int }

func (r *countingRefresher) Trigger() { r.n++ }

func newTestModel(t *testing.T) (Model, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager(session.ManagerOptions{})
	require.NoError(t, err)
	m := New(Options{Sessions: mgr, Store: &state.Store{}, PrefsPath: t.TempDir() + "/prefs.toml"})
	m.width, m.height, m.ready = 120, 40, true
	return m, mgr
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestNew_StartsOnLoginWithoutSession(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Equal(t, screenLogin, m.screen)
	assert.Contains(t, m.View(), "Connect to CasaOS")
}

func newAutoLoginModel(t *testing.T, cfg casaos.ServerConfig) Model {
	t.Helper()
	mgr, err := session.NewManager(session.ManagerOptions{})
	require.NoError(t, err)
	mgr.UpdateConfig(cfg)
	m := New(Options{Sessions: mgr, Store: &state.Store{}, PrefsPath: t.TempDir() + "/prefs.toml", AutoLogin: true})
	m.width, m.height, m.ready = 120, 40, true
	return m
}

func TestAutoLogin_BusyWhileInFlight(t *testing.T) {
	m := newAutoLoginModel(t, casaos.ServerConfig{Host: "casa.local", Port: 80})

	assert.Equal(t, screenLogin, m.screen)
	assert.True(t, m.busy)
	assert.Equal(t, uint64(1), m.seq)
	assert.NotNil(t, m.startup)
	assert.NotNil(t, m.Init())
	assert.Equal(t, "Signing in to http://casa.local...", m.busyLabel)
	assert.Contains(t, m.View(), "Signing in")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd, "submit stays disabled while the auto-login runs")

	m, _ = update(t, m, negotiatedMsg{seq: 1, purpose: negConnect, result: session.ConnectionResult{ErrorMessage: "Connection failed: connection refused"}})
	assert.False(t, m.busy)
	assert.Equal(t, screenLogin, m.screen)
	assert.Equal(t, "Connection failed: connection refused", m.login.err)
}

func TestAutoLogin_EscCancels(t *testing.T) {
	m := newAutoLoginModel(t, casaos.ServerConfig{Host: "casa.local", Port: 80})
	require.True(t, m.busy)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.busy)
	assert.Equal(t, "Cancelled", m.login.info)

	m, _ = update(t, m, negotiatedMsg{seq: 1, purpose: negConnect, result: session.ConnectionResult{Connected: true}})
	assert.Equal(t, screenLogin, m.screen)
}

func TestAutoLogin_SkippedWithoutValidConfig(t *testing.T) {
	m := newAutoLoginModel(t, casaos.DefaultServerConfig())
	assert.False(t, m.busy)
	assert.Nil(t, m.startup)
	assert.Zero(t, m.seq)
}

func TestNegotiation_StaleResultDropped(t *testing.T) {
	m, _ := newTestModel(t)
	m.seq = 2
	m.busy = true
	m.busyFrom = screenLogin

	m, _ = update(t, m, negotiatedMsg{seq: 1, purpose: negConnect, result: session.ConnectionResult{Connected: true, Message: session.MsgAuthenticated}})
	assert.True(t, m.busy, "stale result must not clear busy")
	assert.Equal(t, screenLogin, m.screen)

	m, _ = update(t, m, negotiatedMsg{seq: 2, purpose: negConnect, result: session.ConnectionResult{ErrorMessage: "Connection failed: timeout"}})
	assert.False(t, m.busy)
	assert.Equal(t, screenLogin, m.screen)
	assert.Equal(t, "Connection failed: timeout", m.login.err)
}

func TestNegotiation_SubmitDisabledWhileBusy(t *testing.T) {
	m, _ := newTestModel(t)
	m.login = newServerForm(casaos.ServerConfig{Host: "casa.local", Port: 80})
	m.busy = true
	m.seq = 7

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, uint64(7), m.seq)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Nil(t, cmd)
	assert.Equal(t, uint64(7), m.seq)
}

func TestNegotiation_InvalidFormNeverDispatches(t *testing.T) {
	m, _ := newTestModel(t)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
	assert.Zero(t, m.seq)
	assert.NotEmpty(t, m.login.err)
}

func TestNegotiation_EscCancelsAndDropsLateResult(t *testing.T) {
	m, _ := newTestModel(t)
	m.login = newServerForm(casaos.ServerConfig{Host: "casa.local", Port: 80})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.True(t, m.busy)
	started := m.seq

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.busy)
	assert.Equal(t, "Cancelled", m.login.info)

	m, _ = update(t, m, negotiatedMsg{seq: started, purpose: negConnect, result: session.ConnectionResult{Connected: true}})
	assert.Equal(t, screenLogin, m.screen)
}

func serverConfig(t *testing.T, raw string) casaos.ServerConfig {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return casaos.ServerConfig{Host: u.Hostname(), Port: port, Username: "admin", Password: "secret"}
}

func TestConnect_LoginMovesToStartScreen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/login" {
			_, _ = w.Write([]byte(`{"success":true,"data":{"token":"T"}}`))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	m, mgr := newTestModel(t)
	refresher := &countingRefresher{}
	m.poller = refresher
	m.login = newServerForm(serverConfig(t, srv.URL))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.busy)

	ctx, cancel := context.WithCancel(context.Background())
	msg := connectCmd(ctx, cancel, mgr, m.seq)()
	m, _ = update(t, m, msg)

	assert.False(t, m.busy)
	assert.Equal(t, screenStatus, m.screen)
	assert.Equal(t, session.MsgAuthenticated, m.flash.text)
	assert.Equal(t, 1, refresher.n)
	sess, ok := mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "T", sess.Token)
}

func TestTestConnection_NeverCommits(t *testing.T) {
	var sawLogin bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/login" {
			sawLogin = true
		}
		_, _ = w.Write([]byte("<html>CasaOS</html>"))
	}))
	t.Cleanup(srv.Close)

	neg, err := session.NewNegotiator(nil, nil)
	require.NoError(t, err)
	m, mgr := newTestModel(t)
	m.negotiator = neg
	m.screen = screenSettings
	m.settings = newServerForm(serverConfig(t, srv.URL))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	require.True(t, m.busy)

	cfg, err := m.settings.config()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	msg := testConnectionCmd(ctx, cancel, neg, m.seq, cfg)()
	m, _ = update(t, m, msg)

	assert.False(t, sawLogin)
	assert.Equal(t, "Connection OK: "+session.MsgProductMatch, m.settings.info)
	_, ok := mgr.Current()
	assert.False(t, ok)
	assert.Equal(t, screenSettings, m.screen)
}

func TestActionLabel(t *testing.T) {
	cases := map[casaos.AppStatus]string{
		casaos.AppRunning:  "Stop",
		"RUNNING":          "Stop",
		casaos.AppStopped:  "Start",
		casaos.AppError:    "Start",
		casaos.AppStarting: "Start",
		"":                 "Start",
	}
	for status, want := range cases {
		if got := actionLabel(casaos.AppInfo{Status: status}); got != want {
			t.Errorf("actionLabel(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestAppAction_SuccessPatchesStatusAndRefreshes(t *testing.T) {
	m, _ := newTestModel(t)
	refresher := &countingRefresher{}
	m.poller = refresher
	m.store.Update(nil, []casaos.AppInfo{{ID: "jellyfin", Name: "Jellyfin", Status: casaos.AppRunning}}, nil)
	m.pending["jellyfin"] = true

	m, cmd := update(t, m, appActionMsg{id: "jellyfin", name: "Jellyfin", verb: appVerb(casaos.ActionStop)})
	require.NotNil(t, cmd)
	assert.False(t, m.pending["jellyfin"])
	assert.Equal(t, 1, refresher.n)
	assert.False(t, m.flash.isErr)

	app, ok := m.store.Snapshot().App("jellyfin")
	require.True(t, ok)
	assert.Equal(t, casaos.AppStopping, app.Status)
}

func TestAppAction_FailureFlashesError(t *testing.T) {
	m, _ := newTestModel(t)
	m.pending["jellyfin"] = true

	m, _ = update(t, m, appActionMsg{id: "jellyfin", name: "Jellyfin", verb: verbRemove, err: errors.New("boom")})
	assert.True(t, m.flash.isErr)
	assert.Contains(t, m.flash.text, "boom")
	assert.False(t, m.pending["jellyfin"])
}

func TestAppsKeys_RemoveNeedsConfirmation(t *testing.T) {
	m, _ := newTestModel(t)
	m.screen = screenApps
	m.snapshot = state.Snapshot{HasApps: true, Apps: []casaos.AppInfo{{ID: "a"}, {ID: "b"}}}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 1, m.selectedRow)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
	assert.Equal(t, "b", m.confirmRemove)
	assert.Contains(t, m.View(), "Remove b?")

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Nil(t, cmd)
	assert.Empty(t, m.confirmRemove)
}

func TestLogs_StaleFetchDropped(t *testing.T) {
	m, _ := newTestModel(t)
	m.logs.seq = 3
	m.logs.loading = true

	m, _ = update(t, m, logsMsg{seq: 2, lines: []string{"old"}})
	assert.True(t, m.logs.loading)
	assert.Empty(t, m.logs.lines)

	m, _ = update(t, m, logsMsg{seq: 3, lines: []string{"a", "b"}})
	assert.False(t, m.logs.loading)
	assert.Equal(t, []string{"a", "b"}, m.logs.lines)
}

func TestLogout_ReturnsToLogin(t *testing.T) {
	m, _ := newTestModel(t)
	m.screen = screenStatus
	m.store.Update(&casaos.SystemInfo{Version: "1"}, nil, nil)

	m, _ = update(t, m, logoutMsg{})
	assert.Equal(t, screenLogin, m.screen)
	assert.Equal(t, "Logged out", m.login.info)
	assert.False(t, m.store.Snapshot().HasSystem)
}
