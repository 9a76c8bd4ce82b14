// Package config loads casadeck's client settings.
//
// # Configuration Discovery
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/casadeck/config.toml
//  3. If the file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//
// # TOML Format
//
//	poll_interval = "5s"
//	request_timeout = "30s"
//	log_level = "info"        # debug, info, warn, error
//	log_format = "json"       # json or console
//	log_file = "~/.local/state/casadeck/casadeck.log"
//
//	[store]
//	path = "~/.local/share/casadeck/credentials.db"
//	keychain = false
//
//	[tls]
//	ca_cert = ""
//	insecure_skip_verify = false
//
// Tilde expansion is applied to every path. The server address and
// credentials are not part of this file; they are kept encrypted in the
// credential store.
//
// # TLS
//
// Certificates are verified unless insecure_skip_verify is set. Servers with
// a self-signed certificate are better served by pointing ca_cert at the
// signing CA.
package config
