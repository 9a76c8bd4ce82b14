package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/five82/casadeck/internal/casaos"
)

var (
	// ErrNotNegotiated is returned by Client before a successful negotiation.
	ErrNotNegotiated = errors.New("session not negotiated")
	// ErrDiscarded marks a negotiation whose result was not committed because
	// the context ended or the config changed while it ran.
	ErrDiscarded = errors.New("negotiation result discarded")
)

// Persister receives the state that outlives the process.
// credstore.Store implements it.
type Persister interface {
	Save(ctx context.Context, cfg casaos.ServerConfig) error
	SetLoggedIn(ctx context.Context, loggedIn bool) error
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// ManagerOptions configure NewManager.
type ManagerOptions struct {
	Negotiator *Negotiator
	Store      Persister
	Logger     *zerolog.Logger
	UserAgent  string
}

// Manager owns the current Session for the process. Sessions are replaced,
// never mutated, and every replacement bumps the generation.
type Manager struct {
	negotiator *Negotiator
	store      Persister
	log        zerolog.Logger
	userAgent  string

	// persistMu orders store writes; each write first checks that its
	// generation is still current.
	persistMu sync.Mutex

	mu      sync.Mutex
	cfg     casaos.ServerConfig
	gen     uint64
	current *Session
	client  *casaos.Client
}

// NewManager builds a Manager with a default config.
func NewManager(opts ManagerOptions) (*Manager, error) {
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	neg := opts.Negotiator
	if neg == nil {
		var err error
		neg, err = NewNegotiator(nil, &l)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{
		negotiator: neg,
		store:      opts.Store,
		log:        l.With().Str("component", "session").Logger(),
		userAgent:  opts.UserAgent,
		cfg:        casaos.DefaultServerConfig(),
	}, nil
}

// Config returns the config the next negotiation will use.
func (m *Manager) Config() casaos.ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig replaces the config. A different config drops the current
// session and its token; it reports whether anything changed.
func (m *Manager) UpdateConfig(cfg casaos.ServerConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == m.cfg {
		return false
	}
	m.cfg = cfg
	m.dropLocked()
	return true
}

// Current returns the committed session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Negotiate runs the negotiator against the current config and commits the
// outcome unless ctx ended or the config changed meanwhile. The result is
// always returned; a non-nil error wrapping ErrDiscarded means it was not
// committed.
func (m *Manager) Negotiate(ctx context.Context) (ConnectionResult, error) {
	m.mu.Lock()
	cfg := m.cfg
	gen := m.gen
	m.mu.Unlock()

	res, sess := m.negotiator.Negotiate(ctx, cfg)

	m.mu.Lock()
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return res, fmt.Errorf("%w: %w", ErrDiscarded, err)
	}
	if gen != m.gen {
		m.mu.Unlock()
		return res, fmt.Errorf("%w: config changed", ErrDiscarded)
	}
	m.dropLocked()
	committedGen := m.gen
	if res.Connected {
		committed := sess
		m.current = &committed
	}
	m.mu.Unlock()

	if res.Connected {
		m.persist(ctx, sess, committedGen)
	}
	return res, nil
}

// Client returns the API client bound to the current session, building it
// on first use.
func (m *Manager) Client() (*casaos.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNotNegotiated
	}
	if m.client != nil {
		return m.client, nil
	}
	gen := m.gen
	log := m.log
	c, err := casaos.NewClient(m.current.Config.BaseURL(), casaos.Options{
		HTTPClient: m.negotiator.HTTPClient(),
		Token:      m.tokenFor(gen),
		UserAgent:  m.userAgent,
		Logger:     &log,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	m.client = c
	return c, nil
}

// Logout asks the server to drop the token, then forgets it locally even
// when the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	var hasToken bool
	if m.current != nil {
		hasToken = m.current.Token != ""
	}
	m.mu.Unlock()

	if hasToken {
		if c, err := m.Client(); err == nil {
			if err := c.Logout(ctx); err != nil {
				m.log.Debug().Err(err).Msg("server logout failed")
			}
		}
	}

	m.mu.Lock()
	if m.current != nil {
		anon := Session{Config: m.current.Config}
		m.gen++
		m.current = &anon
		m.client = nil
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.ClearToken(ctx); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	if err := m.store.SetLoggedIn(ctx, false); err != nil {
		return fmt.Errorf("clear logged in flag: %w", err)
	}
	return nil
}

// tokenFor yields the session token only while gen is still current, so a
// client bound to a replaced session stops sending credentials.
func (m *Manager) tokenFor(gen uint64) casaos.TokenSource {
	return func() string {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen || m.current == nil {
			return ""
		}
		return m.current.Token
	}
}

func (m *Manager) dropLocked() {
	m.gen++
	m.current = nil
	m.client = nil
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// persist writes a committed session to the store. It stops as soon as a
// config change or logout replaces the session it belongs to.
func (m *Manager) persist(ctx context.Context, sess Session, gen uint64) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	saveToken := func(ctx context.Context) error { return m.store.ClearToken(ctx) }
	if sess.Token != "" {
		saveToken = func(ctx context.Context) error { return m.store.SaveToken(ctx, sess.Token) }
	}
	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"save config", func(ctx context.Context) error { return m.store.Save(ctx, sess.Config) }},
		{"save token", saveToken},
		{"set logged in", func(ctx context.Context) error { return m.store.SetLoggedIn(ctx, true) }},
	}
	for _, step := range steps {
		if !m.isCurrent(gen) {
			m.log.Debug().Str("step", step.name).Msg("session replaced, stopping persistence")
			return
		}
		if err := step.run(ctx); err != nil {
			m.log.Warn().Err(err).Msg(step.name)
		}
	}
}
