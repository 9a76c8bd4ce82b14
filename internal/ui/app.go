package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/config"
	"github.com/five82/casadeck/internal/prefs"
	"github.com/five82/casadeck/internal/session"
	"github.com/five82/casadeck/internal/state"
)

// screen is the active top-level view.
type screen int

const (
	screenLogin screen = iota
	screenStatus
	screenApps
	screenLogs
	screenSettings
)

// cycle order for tab
var screenOrder = []screen{screenStatus, screenApps, screenLogs, screenSettings}

// Refresher asks the poller for an immediate refresh.
type Refresher interface {
	Trigger()
}

// Options configures the UI.
type Options struct {
	Context    context.Context
	Sessions   *session.Manager
	Negotiator *session.Negotiator
	Store      *state.Store
	Poller     Refresher
	Config     *config.Config
	Prefs      prefs.Prefs
	PrefsPath  string
	// AutoLogin negotiates the stored server as soon as the UI starts.
	AutoLogin bool
	Logger    *zerolog.Logger
}

// negPurpose tells a negotiation result where it belongs.
type negPurpose int

const (
	negConnect negPurpose = iota // commit through the session manager
	negTest                      // probe only, nothing is committed
)

type flash struct {
	text  string
	isErr bool
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx        context.Context
	sessions   *session.Manager
	negotiator *session.Negotiator
	store      *state.Store
	poller     Refresher
	config     *config.Config
	prefs      prefs.Prefs
	prefsPath  string
	pollTick   time.Duration
	log        zerolog.Logger
	keys       keyMap

	// UI state
	theme    Theme
	screen   screen
	width    int
	height   int
	ready    bool
	showHelp bool
	flash    flash

	// Data state
	snapshot    state.Snapshot
	lastUpdated time.Time

	// Negotiation state. seq identifies the latest negotiation; results
	// carrying any other value are stale and dropped.
	seq       uint64
	busy      bool
	busyFrom  screen
	busyLabel string
	cancel    context.CancelFunc
	spinner   spinner.Model
	startup   tea.Cmd

	// Forms
	login    serverForm
	settings serverForm

	// Apps state
	selectedRow   int
	confirmRemove string
	pending       map[string]bool

	// Status bars
	bar progress.Model

	// Logs state
	logs logsState
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}

	p := opts.Prefs
	if p.Theme == "" {
		p = prefs.Default()
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	pollTick := time.Second
	if opts.Config != nil && opts.Config.PollInterval > 0 && opts.Config.PollInterval < pollTick {
		pollTick = opts.Config.PollInterval
	}

	store := opts.Store
	if store == nil {
		store = &state.Store{}
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	bar := progress.New(progress.WithoutPercentage())

	var serverCfg casaos.ServerConfig
	if opts.Sessions != nil {
		serverCfg = opts.Sessions.Config()
	}

	m := Model{
		ctx:        ctx,
		sessions:   opts.Sessions,
		negotiator: opts.Negotiator,
		store:      store,
		poller:     opts.Poller,
		config:     opts.Config,
		prefs:      p,
		prefsPath:  prefsPath,
		pollTick:   pollTick,
		log:        l.With().Str("component", "ui").Logger(),
		keys:       DefaultKeyMap(),
		theme:      GetTheme(p.Theme),
		screen:     screenLogin,
		spinner:    sp,
		bar:        bar,
		login:      newServerForm(serverCfg),
		settings:   newServerForm(serverCfg),
		pending:    make(map[string]bool),
		logs:       newLogsState(),
	}

	if m.hasSession() {
		m.screen = startScreen(p.StartView)
	}
	if opts.AutoLogin && opts.Sessions != nil && serverCfg.IsValid() {
		ctx, cancel, seq := m.beginNegotiation("Signing in to " + serverCfg.BaseURL() + "...")
		m.startup = tea.Batch(connectCmd(ctx, cancel, m.sessions, seq), m.spinner.Tick)
	}
	return m
}

func startScreen(view string) screen {
	switch view {
	case prefs.ViewApps:
		return screenApps
	case prefs.ViewSettings:
		return screenSettings
	default:
		return screenStatus
	}
}

func (m Model) currentSession() (session.Session, bool) {
	if m.sessions == nil {
		return session.Session{}, false
	}
	return m.sessions.Current()
}

func (m Model) hasSession() bool {
	_, ok := m.currentSession()
	return ok
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tickCmd(m.pollTick),
		fetchSnapshotCmd(m.store),
	}
	if m.startup != nil {
		cmds = append(cmds, m.startup)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeLogViewport()
		return m, nil

	case tickMsg:
		return m.handleTick()

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		m.lastUpdated = m.snapshot.LastUpdated
		m.clampSelection()
		return m, nil

	case negotiatedMsg:
		return m.handleNegotiated(msg)

	case appActionMsg:
		return m.handleAppAction(msg)

	case logsMsg:
		m.handleLogs(msg)
		return m, nil

	case logoutMsg:
		return m.handleLogout(msg)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.cancelNegotiation()
		return m, tea.Quit
	}

	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	// Forms own the keyboard.
	if m.screen == screenLogin || m.screen == screenSettings {
		return m.handleFormKey(msg)
	}

	if m.confirmRemove != "" {
		return m.handleConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancelNegotiation()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.prefs.Theme = m.theme.Name
		m.savePrefs()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		return m.switchTo(m.cycleScreen(1))

	case key.Matches(msg, m.keys.ShiftTab):
		return m.switchTo(m.cycleScreen(-1))

	case key.Matches(msg, m.keys.ViewStatus):
		return m.switchTo(screenStatus)

	case key.Matches(msg, m.keys.ViewApps):
		return m.switchTo(screenApps)

	case key.Matches(msg, m.keys.ViewSettings):
		return m.switchTo(screenSettings)

	case key.Matches(msg, m.keys.ViewLogs) && m.screen != screenLogs:
		return m.openLogs()

	case key.Matches(msg, m.keys.Refresh):
		m.triggerRefresh()
		if m.screen == screenLogs {
			cmd := m.refreshLogs()
			return m, cmd
		}
		return m, nil

	case key.Matches(msg, m.keys.Logout):
		return m, logoutCmd(m.ctx, m.sessions)

	case key.Matches(msg, m.keys.Escape):
		if m.screen != screenStatus {
			return m.switchTo(screenStatus)
		}
		return m, nil
	}

	switch m.screen {
	case screenApps:
		return m.handleAppsKey(msg)
	case screenLogs:
		return m.handleLogsKey(msg)
	}
	return m, nil
}

func (m Model) cycleScreen(delta int) screen {
	for i, s := range screenOrder {
		if s == m.screen {
			return screenOrder[(i+delta+len(screenOrder))%len(screenOrder)]
		}
	}
	return screenStatus
}

func (m Model) switchTo(s screen) (tea.Model, tea.Cmd) {
	switch s {
	case screenLogs:
		return m.openLogs()
	case screenSettings:
		m.settings = newServerForm(m.currentConfig())
		m.screen = screenSettings
		return m, nil
	}
	m.screen = s
	return m, nil
}

func (m Model) currentConfig() casaos.ServerConfig {
	if m.sessions == nil {
		return casaos.DefaultServerConfig()
	}
	return m.sessions.Config()
}

// handleFormKey drives the login and settings forms.
func (m Model) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	form := m.formFor(m.screen)

	switch {
	case key.Matches(msg, m.keys.Escape):
		if m.busy {
			m.cancelNegotiation()
			form.info = "Cancelled"
			return m, nil
		}
		if m.screen == screenSettings && m.hasSession() {
			m.screen = screenStatus
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		if m.busy {
			return m, nil
		}
		return m.startNegotiation(negConnect)

	case key.Matches(msg, m.keys.TestConn):
		if m.busy {
			return m, nil
		}
		return m.startNegotiation(negTest)
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	*form, cmd = form.update(msg, m.keys)
	form.info = ""
	return m, cmd
}

// startNegotiation validates the form and dispatches a negotiation. The
// control stays disabled until the matching result arrives.
func (m Model) startNegotiation(purpose negPurpose) (tea.Model, tea.Cmd) {
	form := m.formFor(m.screen)
	cfg, err := form.config()
	if err != nil {
		form.err = errorText(err)
		form.info = ""
		return m, nil
	}
	form.err = ""
	form.info = ""

	var cmd tea.Cmd
	switch purpose {
	case negTest:
		ctx, cancel, seq := m.beginNegotiation("Testing connection...")
		cmd = testConnectionCmd(ctx, cancel, m.negotiator, seq, cfg)
	default:
		ctx, cancel, seq := m.beginNegotiation("Connecting to " + cfg.BaseURL() + "...")
		if m.sessions != nil && m.sessions.UpdateConfig(cfg) {
			m.store.Reset()
			m.snapshot = state.Snapshot{}
		}
		cmd = connectCmd(ctx, cancel, m.sessions, seq)
	}
	return m, tea.Batch(cmd, m.spinner.Tick)
}

// beginNegotiation marks the model busy and returns the context and sequence
// number the dispatched command must carry.
func (m *Model) beginNegotiation(label string) (context.Context, context.CancelFunc, uint64) {
	m.seq++
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.busy = true
	m.busyFrom = m.screen
	m.busyLabel = label
	return ctx, cancel, m.seq
}

func (m *Model) formFor(s screen) *serverForm {
	if s == screenSettings {
		return &m.settings
	}
	return &m.login
}

func (m *Model) cancelNegotiation() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.busy {
		m.seq++
		m.busy = false
	}
}

// handleNegotiated applies a negotiation result unless a newer negotiation
// superseded it.
func (m Model) handleNegotiated(msg negotiatedMsg) (tea.Model, tea.Cmd) {
	if msg.seq != m.seq {
		m.log.Debug().Uint64("seq", msg.seq).Uint64("current", m.seq).Msg("dropping stale negotiation result")
		return m, nil
	}
	m.busy = false
	m.cancel = nil

	form := m.formFor(m.busyFrom)

	if msg.err != nil {
		if errors.Is(msg.err, session.ErrDiscarded) || errors.Is(msg.err, context.Canceled) {
			form.info = "Cancelled"
			return m, nil
		}
		form.err = errorText(msg.err)
		return m, nil
	}

	switch msg.purpose {
	case negTest:
		if msg.result.Connected {
			form.info = "Connection OK: " + msg.result.Message
		} else {
			form.err = msg.result.Summary()
		}
		return m, nil
	default:
		if !msg.result.Connected {
			form.err = msg.result.Summary()
			return m, nil
		}
		m.flash = flash{text: msg.result.Message}
		if m.busyFrom == screenLogin {
			m.screen = startScreen(m.prefs.StartView)
		} else {
			form.info = msg.result.Message
		}
		m.login = newServerForm(m.currentConfig())
		m.triggerRefresh()
		return m, fetchSnapshotCmd(m.store)
	}
}

func (m Model) handleLogout(msg logoutMsg) (tea.Model, tea.Cmd) {
	m.cancelNegotiation()
	m.store.Reset()
	m.snapshot = state.Snapshot{}
	m.logs = newLogsState()
	m.resizeLogViewport()
	m.login = newServerForm(m.currentConfig())
	m.screen = screenLogin
	if msg.err != nil {
		m.login.err = "Logged out locally: " + errorText(msg.err)
	} else {
		m.login.info = "Logged out"
	}
	return m, nil
}

// handleTick processes the UI refresh tick.
func (m Model) handleTick() (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{fetchSnapshotCmd(m.store)}
	if m.screen == screenLogs && m.logs.follow && !m.logs.loading {
		cmds = append(cmds, m.refreshLogs())
	}
	cmds = append(cmds, tickCmd(m.pollTick))
	return m, tea.Batch(cmds...)
}

func (m *Model) triggerRefresh() {
	if m.poller != nil {
		m.poller.Trigger()
	}
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.log.Warn().Err(err).Msg("save prefs")
	}
}

// errorText strips the operation prefix from API errors for display.
func errorText(err error) string {
	var apiErr *casaos.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Message != "":
			return apiErr.Message
		case apiErr.Err != nil:
			return apiErr.Err.Error()
		}
	}
	return err.Error()
}

// renderMain renders the full UI.
func (m Model) renderMain() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderCommandBar())
	b.WriteString("\n")
	b.WriteString(m.renderContent())

	return b.String()
}

// renderContent renders the main content area based on current screen.
func (m Model) renderContent() string {
	height := m.contentHeight()
	var body string
	switch m.screen {
	case screenLogin:
		body = m.renderLogin()
	case screenStatus:
		body = m.renderStatus()
	case screenApps:
		body = m.renderApps()
	case screenLogs:
		body = m.renderLogs()
	case screenSettings:
		body = m.renderSettings()
	}
	return m.theme.Styles().Background.Width(m.width).Height(height).Render(body) + "\n" + m.renderFooter()
}

// contentHeight leaves room for the header, command bar and footer.
func (m Model) contentHeight() int {
	return max(1, m.height-3)
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type negotiatedMsg struct {
	seq     uint64
	purpose negPurpose
	result  session.ConnectionResult
	err     error
}

type logoutMsg struct {
	err error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func connectCmd(ctx context.Context, cancel context.CancelFunc, sessions *session.Manager, seq uint64) tea.Cmd {
	return func() tea.Msg {
		defer cancel()
		if sessions == nil {
			return negotiatedMsg{seq: seq, purpose: negConnect, err: session.ErrNotNegotiated}
		}
		res, err := sessions.Negotiate(ctx)
		return negotiatedMsg{seq: seq, purpose: negConnect, result: res, err: err}
	}
}

func testConnectionCmd(ctx context.Context, cancel context.CancelFunc, neg *session.Negotiator, seq uint64, cfg casaos.ServerConfig) tea.Cmd {
	// Probing only: without credentials the negotiator never logs in.
	cfg.Username = ""
	cfg.Password = ""
	return func() tea.Msg {
		defer cancel()
		if neg == nil {
			return negotiatedMsg{seq: seq, purpose: negTest, err: errors.New("connection test unavailable")}
		}
		res, _ := neg.Negotiate(ctx, cfg)
		return negotiatedMsg{seq: seq, purpose: negTest, result: res, err: ctx.Err()}
	}
}

func logoutCmd(ctx context.Context, sessions *session.Manager) tea.Cmd {
	return func() tea.Msg {
		if sessions == nil {
			return logoutMsg{}
		}
		return logoutMsg{err: sessions.Logout(ctx)}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// context ends.
func Run(opts Options) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opts.Context = ctx

	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
