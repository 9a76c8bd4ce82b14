package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/config"
	"github.com/five82/casadeck/internal/credstore"
	"github.com/five82/casadeck/internal/logging"
	"github.com/five82/casadeck/internal/prefs"
	"github.com/five82/casadeck/internal/session"
	"github.com/five82/casadeck/internal/state"
	"github.com/five82/casadeck/internal/ui"
)

// EnvOptions configure Bootstrap.
type EnvOptions struct {
	ConfigPath string
	UserAgent  string
	// LogWriter overrides the configured log file. Tests use it.
	LogWriter io.Writer
}

// Env is the wired set of long-lived components shared by the TUI and the CLI.
type Env struct {
	Config     config.Config
	Logger     zerolog.Logger
	Store      *credstore.Store
	Negotiator *session.Negotiator
	Sessions   *session.Manager

	logFile *os.File
}

// Bootstrap loads config, opens the log sink and the credential store, and
// primes the session manager with the stored server config.
func Bootstrap(ctx context.Context, opts EnvOptions) (*Env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	env := &Env{Config: cfg}

	w := opts.LogWriter
	if w == nil {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		env.logFile = f
		w = f
	}
	env.Logger = logging.Init(cfg.LogLevel, cfg.LogFormat, w)
	if cfg.TLS.InsecureSkipVerify {
		env.Logger.Warn().Msg("TLS certificate verification is disabled by config")
	}

	env.Store, err = credstore.Open(ctx, credstore.Options{
		Path:     cfg.Store.Path,
		Keychain: cfg.Store.Keychain,
		Logger:   &env.Logger,
	})
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	httpClient, err := casaos.NewHTTPClient(cfg.TransportOptions())
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("init http client: %w", err)
	}
	env.Negotiator, err = session.NewNegotiator(httpClient, &env.Logger)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.Sessions, err = session.NewManager(session.ManagerOptions{
		Negotiator: env.Negotiator,
		Store:      env.Store,
		Logger:     &env.Logger,
		UserAgent:  opts.UserAgent,
	})
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	stored, err := env.Store.Load(ctx)
	if err != nil {
		env.Logger.Warn().Err(err).Msg("load stored server config")
	} else {
		env.Sessions.UpdateConfig(stored)
	}

	env.Logger.Info().
		Str("store", env.Store.Path()).
		Dur("poll_interval", cfg.PollInterval).
		Msg("casadeck started")
	return env, nil
}

// ShouldRestore reports whether the last run ended logged in to a server
// that can be negotiated again.
func (e *Env) ShouldRestore(ctx context.Context) (bool, error) {
	loggedIn, err := e.Store.IsLoggedIn(ctx)
	if err != nil || !loggedIn {
		return false, err
	}
	return e.Sessions.Config().IsValid(), nil
}

// Close releases the store and log file.
func (e *Env) Close() error {
	var errs []error
	if e.Store != nil {
		errs = append(errs, e.Store.Close())
	}
	if e.logFile != nil {
		errs = append(errs, e.logFile.Close())
	}
	return errors.Join(errs...)
}

// Options configure the casadeck TUI.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/casadeck/prefs.toml
	UserAgent  string
}

// Run boots the TUI until the user quits or the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	env, err := Bootstrap(ctx, EnvOptions{ConfigPath: opts.ConfigPath, UserAgent: opts.UserAgent})
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	userPrefs, err := prefs.Load(prefsPath)
	if err != nil {
		env.Logger.Warn().Err(err).Msg("using default preferences")
	}

	autoLogin, err := env.ShouldRestore(ctx)
	if err != nil {
		env.Logger.Warn().Err(err).Msg("read logged-in flag")
	}
	if autoLogin {
		env.Logger.Info().Str("server", env.Sessions.Config().BaseURL()).Msg("auto-login")
	}

	store := &state.Store{}
	poller := NewPoller(store, SessionSource(env.Sessions), PollerOptions{
		Interval: env.Config.PollInterval,
		Logger:   &env.Logger,
	})
	poller.Start(ctx)

	cfg := env.Config
	return ui.Run(ui.Options{
		Context:    ctx,
		Sessions:   env.Sessions,
		Negotiator: env.Negotiator,
		Store:      store,
		Poller:     poller,
		Config:     &cfg,
		Prefs:      userPrefs,
		PrefsPath:  prefsPath,
		AutoLogin:  autoLogin,
		Logger:     &env.Logger,
	})
}
