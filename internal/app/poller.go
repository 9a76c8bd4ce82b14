package app

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/session"
	"github.com/five82/casadeck/internal/state"
)

const (
	defaultPollInterval = 5 * time.Second
	maxBackoff          = 30 * time.Second
)

// ClientSource yields the API bound to the current session.
// session.ErrNotNegotiated means there is nothing to poll yet.
type ClientSource func() (casaos.API, error)

// SessionSource adapts a session.Manager.
func SessionSource(m *session.Manager) ClientSource {
	return func() (casaos.API, error) {
		c, err := m.Client()
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Poller refreshes the store from the server at a fixed cadence, backing off
// while polls fail.
type Poller struct {
	store    *state.Store
	source   ClientSource
	interval time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
	kick     chan struct{}
}

// PollerOptions configure NewPoller. Zero values use defaults.
type PollerOptions struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *zerolog.Logger
}

// NewPoller builds a Poller. It does nothing until Run or Start.
func NewPoller(store *state.Store, source ClientSource, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Poller{
		store:    store,
		source:   source,
		interval: interval,
		clock:    clock,
		log:      l.With().Str("component", "poller").Logger(),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches Run in a background goroutine. It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	go p.Run(ctx)
}

// Trigger requests an immediate refresh without waiting for the next tick.
func (p *Poller) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for {
		_ = p.Refresh(ctx)

		wait := calculateBackoff(p.store.Snapshot().ConsecutiveFailures, p.interval)
		timer := p.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.kick:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

// Refresh performs one poll. Without a negotiated session it is a no-op.
// A store Reset while the poll is in flight discards its result.
func (p *Poller) Refresh(ctx context.Context) error {
	gen := p.store.Generation()
	api, err := p.source()
	if err != nil {
		if errors.Is(err, session.ErrNotNegotiated) {
			return nil
		}
		p.commit(gen, nil, nil, err)
		return err
	}

	info, err := api.SystemInfo(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.commit(gen, nil, nil, err)
		p.log.Warn().Err(err).Msg("system info poll failed")
		return err
	}
	apps, err := api.ListApps(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.commit(gen, nil, nil, err)
		p.log.Warn().Err(err).Msg("app list poll failed")
		return err
	}
	if apps == nil {
		apps = []casaos.AppInfo{}
	}
	p.commit(gen, &info, apps, nil)
	return nil
}

func (p *Poller) commit(gen uint64, info *casaos.SystemInfo, apps []casaos.AppInfo, err error) {
	if !p.store.UpdateIf(gen, info, apps, err) {
		p.log.Debug().Msg("dropping poll result from before reset")
	}
}

// calculateBackoff doubles the base interval per consecutive failure, capped
// at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	wait := base
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}
