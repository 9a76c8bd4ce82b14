package casaos

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds connect, read and write for a single request.
const DefaultTimeout = 30 * time.Second

// TLSOptions controls certificate verification for https servers.
type TLSOptions struct {
	CACertPath         string
	ServerName         string
	InsecureSkipVerify bool
}

// TransportOptions configures NewHTTPClient.
type TransportOptions struct {
	Timeout time.Duration
	TLS     TLSOptions
}

// NewHTTPClient builds an http.Client with per-phase timeouts. Verification
// stays on unless InsecureSkipVerify is set explicitly.
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsConfig, err := buildTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          8,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if name := strings.TrimSpace(opts.ServerName); name != "" {
		cfg.ServerName = name
	}
	if opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true //nolint:gosec // explicit user opt-in for self-signed servers
	}
	if path := strings.TrimSpace(opts.CACertPath); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: "load ca cert", Message: path, Err: err}
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &Error{Kind: KindValidation, Op: "load ca cert", Message: fmt.Sprintf("no certificates found in %s", path)}
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
