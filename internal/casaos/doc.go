// Package casaos provides an HTTP client for the CasaOS REST API.
//
// # Overview
//
// The package holds everything needed to talk to a single CasaOS server:
// the ServerConfig value describing where it lives, the Client bound to
// that server, the response types mirroring the API schema and a typed
// error taxonomy.
//
// # Architecture
//
//   - config.go: ServerConfig, validation and address parsing
//   - client.go: Client, PageFetcher and request/response handling
//   - transport.go: http.Client construction with timeouts and TLS options
//   - types.go: data structures mirroring the CasaOS API schema
//   - errors.go: Error and Kind
//
// # Client Usage
//
//	cfg, err := casaos.ParseServerAddress("casa.local:8080")
//	if err != nil {
//		return err
//	}
//	client, err := casaos.NewClient(cfg.BaseURL(), casaos.Options{
//		Token: func() string { return token },
//	})
//	if err != nil {
//		return err
//	}
//	apps, err := client.ListApps(ctx)
//
// Clients are cheap and bound to one base URL. A configuration change means
// building a new Client rather than mutating an existing one.
//
// # API Endpoints
//
//   - POST /v1/auth/login, POST /v1/auth/logout
//   - GET /v1/sys/health, /v1/sys/hardware, /v1/sys/version
//   - GET|DELETE /v2/app_management/apps[/{id}]
//   - POST /v2/app_management/apps/{id}/start|stop|restart
//   - GET /v2/app_management/apps/{id}/logs?lines=N
//   - /v3/file/list, info, create, delete, rename, copy, move
//   - GET / and GET /ping
//
// Most endpoints answer with an envelope of the form
// {"success": ..., "message": ..., "data": ...}. The success field is
// accepted as a boolean or as a numeric 2xx code.
//
// # Request Handling
//
// All requests:
//   - Use context for cancellation and timeout control
//   - Carry User-Agent and a fresh X-Request-ID
//   - Carry "Authorization: Bearer <token>" when the TokenSource yields one
//
// HomePage, Ping and HealthCheck return the raw Page and only fail on
// transport faults. PageFetcher does the same for absolute URLs with no
// token and no JSON Accept header.
//
// # Error Handling
//
// Every failure is an *Error carrying a Kind:
//
//   - KindValidation: rejected locally, nothing was sent
//   - KindAuth: 401/403 or a login answered with success=false
//   - KindTransport: DNS, connect, TLS and timeout faults
//   - KindProtocol: other non-2xx codes, success=false, undecodable bodies
//
// Use KindOf, IsKind and StatusCode to inspect errors.
//
// # TLS
//
// Certificates are verified by default. A custom CA bundle can be supplied
// via TLSOptions.CACertPath. InsecureSkipVerify must be set explicitly.
//
// # Thread Safety
//
// Client and PageFetcher are safe for concurrent use.
package casaos
