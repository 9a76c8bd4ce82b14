package casaos

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
	minPort          = 1
	maxPort          = 65535
)

// ServerConfig describes how to reach a CasaOS server. It is a value type:
// edits produce a new ServerConfig rather than mutating an existing one.
type ServerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	UseTLS   bool   `json:"use_tls" yaml:"use_tls"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"-"`
}

// DefaultServerConfig is returned by stores that hold no configuration yet.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Port: DefaultHTTPPort}
}

// IsValid reports whether the host is non-blank and the port is in range.
// It never touches the network or the disk.
func (c ServerConfig) IsValid() bool {
	return strings.TrimSpace(c.Host) != "" && c.Port >= minPort && c.Port <= maxPort
}

// Validate is IsValid with a reason attached.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &Error{Kind: KindValidation, Op: "validate config", Message: "server host is required"}
	}
	if c.Port < minPort || c.Port > maxPort {
		return &Error{
			Kind:    KindValidation,
			Op:      "validate config",
			Message: fmt.Sprintf("port must be between %d and %d, got %d", minPort, maxPort, c.Port),
		}
	}
	return nil
}

// HasCredentials reports whether both username and password are non-blank.
func (c ServerConfig) HasCredentials() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// Scheme returns "https" when TLS is enabled, otherwise "http".
func (c ServerConfig) Scheme() string {
	if c.UseTLS {
		return "https"
	}
	return "http"
}

// BaseURL renders scheme://host[:port], leaving out the scheme's implicit port.
func (c ServerConfig) BaseURL() string {
	host := strings.TrimSpace(c.Host)
	if c.isDefaultPort() {
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			host = "[" + host + "]"
		}
		return c.Scheme() + "://" + host
	}
	return c.Scheme() + "://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(c.Port))
}

// Redacted returns a copy safe to print or log.
func (c ServerConfig) Redacted() ServerConfig {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}

func (c ServerConfig) isDefaultPort() bool {
	return (c.UseTLS && c.Port == DefaultHTTPSPort) || (!c.UseTLS && c.Port == DefaultHTTPPort)
}

// ParseServerAddress turns user input such as "casa.local", "10.0.0.2:8080"
// or "https://casa.local" into a ServerConfig without credentials. Without an
// explicit scheme, TLS is assumed only for port 443.
func ParseServerAddress(addr string) (ServerConfig, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return ServerConfig{}, &Error{Kind: KindValidation, Op: "parse address", Message: "server address is required"}
	}

	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return ServerConfig{}, &Error{Kind: KindValidation, Op: "parse address", Message: "invalid server address", Err: err}
		}
		cfg := ServerConfig{Host: u.Hostname()}
		switch strings.ToLower(u.Scheme) {
		case "http":
			cfg.Port = DefaultHTTPPort
		case "https":
			cfg.UseTLS = true
			cfg.Port = DefaultHTTPSPort
		default:
			return ServerConfig{}, &Error{Kind: KindValidation, Op: "parse address", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
		}
		if p := u.Port(); p != "" {
			port, err := parsePort(p)
			if err != nil {
				return ServerConfig{}, err
			}
			cfg.Port = port
		}
		return cfg, cfg.Validate()
	}

	cfg := ServerConfig{Host: trimmed, Port: DefaultHTTPPort}
	if host, p, err := net.SplitHostPort(trimmed); err == nil {
		port, err := parsePort(p)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.Host = host
		cfg.Port = port
	}
	cfg.UseTLS = cfg.Port == DefaultHTTPSPort
	return cfg, cfg.Validate()
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &Error{Kind: KindValidation, Op: "parse address", Message: fmt.Sprintf("invalid port %q", raw), Err: err}
	}
	return port, nil
}
