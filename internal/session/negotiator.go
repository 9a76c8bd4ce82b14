package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/five82/casadeck/internal/casaos"
)

// Messages reported in ConnectionResult.
const (
	MsgAuthenticated   = "Authenticated"
	MsgProductMatch    = "Connected to CasaOS web interface"
	MsgServerResponds  = "Server responding"
	MsgHealthResponds  = "Health endpoint responding"
	MsgServerReachable = "Server reachable"

	ErrMsgInvalidConfig = "invalid configuration"
)

const productMarker = "casaos"

// ConnectionResult is the outcome of one negotiation. It is never stored.
type ConnectionResult struct {
	Connected    bool   `json:"connected"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Summary returns whichever of Message or ErrorMessage applies.
func (r ConnectionResult) Summary() string {
	if r.Connected {
		return r.Message
	}
	return r.ErrorMessage
}

// Session is the negotiated binding between a config and the server.
type Session struct {
	Config        casaos.ServerConfig
	Token         string
	Authenticated bool
}

// target bundles the bindings a single negotiation probes through.
type target struct {
	cfg   casaos.ServerConfig
	api   *casaos.Client
	pages *casaos.PageFetcher
}

// probe is one reachability check. done reports a terminal result; err
// carries a transport fault and lets the cascade continue.
type probe struct {
	name string
	run  func(ctx context.Context, t target) (res ConnectionResult, done bool, err error)
}

var probes = []probe{
	{name: "home", run: homePageProbe},
	{name: "health", run: healthProbe},
	{name: "page", run: pageProbe},
}

// Negotiator turns a ServerConfig into a ConnectionResult. It keeps no state
// between calls and never retries on its own.
type Negotiator struct {
	http *http.Client
	log  zerolog.Logger
}

// NewNegotiator builds a Negotiator. A nil httpClient uses casaos defaults.
func NewNegotiator(httpClient *http.Client, logger *zerolog.Logger) (*Negotiator, error) {
	if httpClient == nil {
		var err error
		httpClient, err = casaos.NewHTTPClient(casaos.TransportOptions{})
		if err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Negotiator{http: httpClient, log: l.With().Str("component", "negotiator").Logger()}, nil
}

// HTTPClient returns the client used for every binding the negotiator creates.
func (n *Negotiator) HTTPClient() *http.Client {
	return n.http
}

// Negotiate validates cfg, logs in when credentials are present and
// otherwise falls back to the probe cascade. The returned Session is only
// meaningful when the result is connected.
func (n *Negotiator) Negotiate(ctx context.Context, cfg casaos.ServerConfig) (ConnectionResult, Session) {
	if !cfg.IsValid() {
		return ConnectionResult{ErrorMessage: ErrMsgInvalidConfig}, Session{}
	}

	log := n.log.With().Str("base_url", cfg.BaseURL()).Logger()
	api, err := casaos.NewClient(cfg.BaseURL(), casaos.Options{HTTPClient: n.http, Logger: &log})
	if err != nil {
		return ConnectionResult{ErrorMessage: fmt.Sprintf("Connection failed: %s", faultMessage(err))}, Session{}
	}
	pages, err := casaos.NewPageFetcher(n.http)
	if err != nil {
		return ConnectionResult{ErrorMessage: fmt.Sprintf("Connection failed: %s", faultMessage(err))}, Session{}
	}

	if cfg.HasCredentials() {
		resp, err := api.Login(ctx, cfg.Username, cfg.Password)
		if err == nil {
			log.Debug().Msg("login succeeded")
			return ConnectionResult{Connected: true, Message: MsgAuthenticated},
				Session{Config: cfg, Token: resp.Token, Authenticated: true}
		}
		log.Debug().Err(err).Str("kind", casaos.KindOf(err).String()).Msg("login failed, probing anonymously")
	}

	t := target{cfg: cfg, api: api, pages: pages}
	var lastFault error
	for _, p := range probes {
		res, done, err := p.run(ctx, t)
		if err != nil {
			log.Debug().Str("probe", p.name).Err(err).Msg("probe fault")
			lastFault = err
			continue
		}
		if done {
			log.Debug().Str("probe", p.name).Bool("connected", res.Connected).Msg("probe finished")
			if !res.Connected {
				return res, Session{}
			}
			return res, Session{Config: cfg}
		}
		log.Debug().Str("probe", p.name).Msg("probe inconclusive")
	}

	msg := "unknown error"
	if lastFault != nil {
		msg = faultMessage(lastFault)
	}
	return ConnectionResult{ErrorMessage: fmt.Sprintf("Connection failed: %s", msg)}, Session{}
}

func homePageProbe(ctx context.Context, t target) (ConnectionResult, bool, error) {
	page, err := t.api.HomePage(ctx)
	if err != nil {
		return ConnectionResult{}, false, err
	}
	if !page.OK() {
		return ConnectionResult{}, false, nil
	}
	body := strings.ToLower(page.Body)
	switch {
	case strings.Contains(body, productMarker):
		return ConnectionResult{Connected: true, Message: MsgProductMatch}, true, nil
	case strings.Contains(body, "<!doctype html"), strings.Contains(body, "<html"):
		return ConnectionResult{Connected: true, Message: MsgServerResponds}, true, nil
	}
	return ConnectionResult{}, false, nil
}

func healthProbe(ctx context.Context, t target) (ConnectionResult, bool, error) {
	page, err := t.api.HealthCheck(ctx)
	if err != nil {
		return ConnectionResult{}, false, err
	}
	if !page.OK() {
		return ConnectionResult{}, false, nil
	}
	return ConnectionResult{Connected: true, Message: MsgHealthResponds}, true, nil
}

func pageProbe(ctx context.Context, t target) (ConnectionResult, bool, error) {
	page, err := t.pages.Fetch(ctx, t.cfg.BaseURL())
	if err != nil {
		return ConnectionResult{}, false, err
	}
	if !page.OK() {
		return ConnectionResult{ErrorMessage: fmt.Sprintf("Server responded with HTTP %d", page.StatusCode)}, true, nil
	}
	return ConnectionResult{Connected: true, Message: MsgServerReachable}, true, nil
}

// faultMessage prefers the underlying cause over the operation prefix.
func faultMessage(err error) string {
	var apiErr *casaos.Error
	if errors.As(err, &apiErr) && apiErr.Err != nil {
		return apiErr.Err.Error()
	}
	return err.Error()
}
