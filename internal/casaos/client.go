package casaos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// API is the surface feature screens and the CLI depend on.
// This interface is implemented by *Client and can be faked in tests.
type API interface {
	SystemInfo(ctx context.Context) (SystemInfo, error)
	Version(ctx context.Context) (string, error)
	ListApps(ctx context.Context) ([]AppInfo, error)
	GetApp(ctx context.Context, id string) (AppInfo, error)
	AppAction(ctx context.Context, id string, action AppAction) error
	RemoveApp(ctx context.Context, id string) error
	AppLogs(ctx context.Context, id string, lines int) (string, error)
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// TokenSource yields the bearer token to attach to the next request. It is
// consulted per request so a logout or re-login never leaks a stale token.
type TokenSource func() string

// Options tune a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	Token      TokenSource
	UserAgent  string
	Logger     *zerolog.Logger
}

// Client talks to the CasaOS REST API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	token     TokenSource
	userAgent string
	log       zerolog.Logger
}

const (
	defaultUserAgent = "casadeck/0.1"
	maxBodyBytes     = 4 << 20

	pathLogin     = "/v1/auth/login"
	pathLogout    = "/v1/auth/logout"
	pathHealth    = "/v1/sys/health"
	pathHardware  = "/v1/sys/hardware"
	pathVersion   = "/v1/sys/version"
	pathApps      = "/v2/app_management/apps"
	pathFileList  = "/v3/file/list"
	pathFileInfo  = "/v3/file/info"
	pathFileMkdir = "/v3/file/create"
	pathFileDel   = "/v3/file/delete"
	pathFileMove  = "/v3/file/move"
	pathFileCopy  = "/v3/file/copy"
	pathFileRen   = "/v3/file/rename"
	pathPing      = "/ping"
)

// NewClient builds a Client bound to baseURL (scheme://host[:port]).
func NewClient(baseURL string, opts Options) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient, err = NewHTTPClient(TransportOptions{})
		if err != nil {
			return nil, err
		}
	}
	userAgent := opts.UserAgent
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		token:     opts.Token,
		userAgent: userAgent,
		log:       logger.With().Str("component", "casaos").Str("base_url", base.String()).Logger(),
	}, nil
}

// BaseURL returns the bound base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login posts credentials and returns the issued token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	rel := &url.URL{Path: pathLogin}
	op := http.MethodPost + " " + rel.Path

	raw, status, err := c.exchange(ctx, http.MethodPost, rel, LoginRequest{Username: username, Password: password}, "application/json")
	if err != nil {
		return LoginResponse{}, err
	}
	var payload loginPayload
	decodeErr := json.Unmarshal(raw, &payload)
	if !statusOK(status) {
		return LoginResponse{}, &Error{Kind: kindForStatus(status), Op: op, StatusCode: status, Message: payload.Message}
	}
	if decodeErr != nil {
		return LoginResponse{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Message: "decode response", Err: decodeErr}
	}
	if !payload.Success {
		msg := payload.Message
		if msg == "" {
			msg = "login failed"
		}
		return LoginResponse{}, &Error{Kind: KindAuth, Op: op, StatusCode: status, Message: msg}
	}
	tok := payload.token()
	if tok == "" {
		return LoginResponse{}, &Error{Kind: KindProtocol, Op: op, StatusCode: status, Message: "login response did not include a token"}
	}
	return LoginResponse{Success: true, Token: tok, Message: payload.Message}, nil
}

// Logout invalidates the current token server side.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, &url.URL{Path: pathLogout}, nil, nil)
}

// Health decodes /v1/sys/health strictly.
func (c *Client) Health(ctx context.Context) (SystemHealth, error) {
	var payload SystemHealth
	if err := c.call(ctx, http.MethodGet, &url.URL{Path: pathHealth}, nil, &payload); err != nil {
		return SystemHealth{}, err
	}
	return payload, nil
}

// HealthCheck fetches /v1/sys/health without interpreting the body.
func (c *Client) HealthCheck(ctx context.Context) (Page, error) {
	return c.fetch(ctx, &url.URL{Path: pathHealth})
}

// HomePage fetches the web UI root.
func (c *Client) HomePage(ctx context.Context) (Page, error) {
	return c.fetch(ctx, &url.URL{Path: "/"})
}

// Ping fetches /ping.
func (c *Client) Ping(ctx context.Context) (Page, error) {
	return c.fetch(ctx, &url.URL{Path: pathPing})
}

// SystemInfo retrieves CPU, memory and disk usage.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var payload SystemInfo
	if err := c.call(ctx, http.MethodGet, &url.URL{Path: pathHardware}, nil, &payload); err != nil {
		return SystemInfo{}, err
	}
	return payload, nil
}

// Version retrieves the CasaOS version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var payload string
	if err := c.call(ctx, http.MethodGet, &url.URL{Path: pathVersion}, nil, &payload); err != nil {
		return "", err
	}
	return payload, nil
}

// ListApps retrieves the installed apps.
func (c *Client) ListApps(ctx context.Context) ([]AppInfo, error) {
	var payload []AppInfo
	if err := c.call(ctx, http.MethodGet, &url.URL{Path: pathApps}, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// GetApp retrieves a single app.
func (c *Client) GetApp(ctx context.Context, id string) (AppInfo, error) {
	rel, err := appURL(id, "")
	if err != nil {
		return AppInfo{}, err
	}
	var payload AppInfo
	if err := c.call(ctx, http.MethodGet, rel, nil, &payload); err != nil {
		return AppInfo{}, err
	}
	return payload, nil
}

// AppAction starts, stops or restarts an app.
func (c *Client) AppAction(ctx context.Context, id string, action AppAction) error {
	switch action {
	case ActionStart, ActionStop, ActionRestart:
	default:
		return &Error{Kind: KindValidation, Op: "app action", Message: fmt.Sprintf("unknown action %q", action)}
	}
	rel, err := appURL(id, string(action))
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, rel, nil, nil)
}

// StartApp starts an app.
func (c *Client) StartApp(ctx context.Context, id string) error {
	return c.AppAction(ctx, id, ActionStart)
}

// StopApp stops an app.
func (c *Client) StopApp(ctx context.Context, id string) error {
	return c.AppAction(ctx, id, ActionStop)
}

// RestartApp restarts an app.
func (c *Client) RestartApp(ctx context.Context, id string) error {
	return c.AppAction(ctx, id, ActionRestart)
}

// RemoveApp uninstalls an app.
func (c *Client) RemoveApp(ctx context.Context, id string) error {
	rel, err := appURL(id, "")
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodDelete, rel, nil, nil)
}

// AppLogs retrieves the last lines of an app's container log.
func (c *Client) AppLogs(ctx context.Context, id string, lines int) (string, error) {
	rel, err := appURL(id, "logs")
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 100
	}
	rel.RawQuery = url.Values{"lines": {strconv.Itoa(lines)}}.Encode()
	var payload string
	if err := c.call(ctx, http.MethodGet, rel, nil, &payload); err != nil {
		return "", err
	}
	return payload, nil
}

// ListFiles lists a directory.
func (c *Client) ListFiles(ctx context.Context, path string) (DirectoryListing, error) {
	var payload DirectoryListing
	if err := c.call(ctx, http.MethodGet, withQuery(pathFileList, "path", path), nil, &payload); err != nil {
		return DirectoryListing{}, err
	}
	return payload, nil
}

// FileInfo describes a single path.
func (c *Client) FileInfo(ctx context.Context, path string) (FileInfo, error) {
	var payload FileInfo
	if err := c.call(ctx, http.MethodGet, withQuery(pathFileInfo, "path", path), nil, &payload); err != nil {
		return FileInfo{}, err
	}
	return payload, nil
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodPost, withQuery(pathFileMkdir, "path", path), nil, nil)
}

// DeleteFile removes a file or directory.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodDelete, withQuery(pathFileDel, "path", path), nil, nil)
}

// RenameFile renames oldPath to newPath.
func (c *Client) RenameFile(ctx context.Context, oldPath, newPath string) error {
	return c.call(ctx, http.MethodPost, withQuery(pathFileRen, "old_path", oldPath, "new_path", newPath), nil, nil)
}

// CopyFile copies src to dst.
func (c *Client) CopyFile(ctx context.Context, src, dst string) error {
	return c.call(ctx, http.MethodPost, withQuery(pathFileCopy, "src", src, "dst", dst), nil, nil)
}

// MoveFile moves src to dst.
func (c *Client) MoveFile(ctx context.Context, src, dst string) error {
	return c.call(ctx, http.MethodPost, withQuery(pathFileMove, "src", src, "dst", dst), nil, nil)
}

// call performs a JSON request and unwraps the envelope into dest.
func (c *Client) call(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	op := method + " " + rel.Path
	raw, status, err := c.exchange(ctx, method, rel, body, "application/json")
	if err != nil {
		return err
	}

	var env Envelope[json.RawMessage]
	var decodeErr error
	if len(bytes.TrimSpace(raw)) == 0 {
		decodeErr = fmt.Errorf("empty body")
	} else {
		decodeErr = json.Unmarshal(raw, &env)
	}

	if !statusOK(status) {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(status)
		}
		return &Error{Kind: kindForStatus(status), Op: op, StatusCode: status, Message: msg}
	}
	if decodeErr != nil {
		return &Error{Kind: KindProtocol, Op: op, StatusCode: status, Message: "decode response", Err: decodeErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &Error{Kind: KindProtocol, Op: op, StatusCode: status, Message: msg}
	}
	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return &Error{Kind: KindProtocol, Op: op, StatusCode: status, Message: "decode data", Err: err}
	}
	return nil
}

// fetch performs a request and returns the raw page; only transport faults
// are errors.
func (c *Client) fetch(ctx context.Context, rel *url.URL) (Page, error) {
	raw, status, err := c.exchange(ctx, http.MethodGet, rel, nil, "text/html,application/json;q=0.9,*/*;q=0.8")
	if err != nil {
		return Page{}, err
	}
	return Page{StatusCode: status, Body: string(raw)}, nil
}

func (c *Client) exchange(ctx context.Context, method string, rel *url.URL, body any, accept string) ([]byte, int, error) {
	op := method + " " + rel.Path
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, &Error{Kind: KindProtocol, Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, 0, &Error{Kind: KindProtocol, Op: op, Message: "create request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := strings.TrimSpace(c.token()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Str("op", op).Str("request_id", requestID).Err(err).Msg("request failed")
		return nil, 0, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}
	c.log.Debug().Str("op", op).Str("request_id", requestID).Int("status", resp.StatusCode).Int("bytes", len(raw)).Msg("request done")
	return raw, resp.StatusCode, nil
}

// PageFetcher retrieves absolute URLs with a bare binding: no JSON Accept
// header and no bearer token. It is the last-resort reachability path.
type PageFetcher struct {
	http      *http.Client
	userAgent string
}

// NewPageFetcher wraps httpClient; nil uses a default transport.
func NewPageFetcher(httpClient *http.Client) (*PageFetcher, error) {
	if httpClient == nil {
		var err error
		httpClient, err = NewHTTPClient(TransportOptions{})
		if err != nil {
			return nil, err
		}
	}
	return &PageFetcher{http: httpClient, userAgent: defaultUserAgent}, nil
}

// Fetch retrieves rawURL. Non-2xx statuses are returned in Page, not as errors.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	op := http.MethodGet + " " + rawURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, &Error{Kind: KindProtocol, Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return Page{}, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}
	return Page{StatusCode: resp.StatusCode, Body: string(raw)}, nil
}

func appURL(id, suffix string) (*url.URL, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return nil, &Error{Kind: KindValidation, Op: "app id", Message: fmt.Sprintf("invalid app id %q", id)}
	}
	p := pathApps + "/" + trimmed
	if suffix != "" {
		p += "/" + suffix
	}
	return &url.URL{Path: p}, nil
}

func withQuery(path string, kv ...string) *url.URL {
	values := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		values.Set(kv[i], kv[i+1])
	}
	return &url.URL{Path: path, RawQuery: values.Encode()}
}

func statusOK(code int) bool {
	return code >= 200 && code < 300
}

func kindForStatus(code int) Kind {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return KindAuth
	}
	return KindProtocol
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &Error{Kind: KindValidation, Op: "parse base url", Message: "base url is empty"}
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: "parse base url", Message: fmt.Sprintf("parse %q", raw), Err: err}
	}
	if u.Host == "" {
		return nil, &Error{Kind: KindValidation, Op: "parse base url", Message: fmt.Sprintf("missing host in %q", raw)}
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
