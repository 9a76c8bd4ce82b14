package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/five82/casadeck/internal/casaos"
)

// Record keys.
const (
	KeyServerURL  = "server_url"
	KeyServerPort = "server_port"
	KeyUseHTTPS   = "use_https"
	KeyUsername   = "username"
	KeyPassword   = "password"
	KeyLoggedIn   = "logged_in"
	KeyAuthToken  = "auth_token"
)

const defaultBusyTimeout = 5 * time.Second

var configKeys = []string{KeyServerURL, KeyServerPort, KeyUseHTTPS, KeyUsername, KeyPassword}

var allKeys = append(append([]string{}, configKeys...), KeyLoggedIn, KeyAuthToken)

// keychainKeys are mirrored into the OS keychain when enabled.
var keychainKeys = map[string]bool{KeyPassword: true, KeyAuthToken: true}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Options describe how to open a Store.
type Options struct {
	Path     string
	Keychain bool
	Logger   *zerolog.Logger
}

// Store persists the last known server config, the logged-in flag and the
// auth token. Every value is AES-256-GCM encrypted at rest.
type Store struct {
	db       *sql.DB
	key      []byte
	keychain *keychain
	log      zerolog.Logger
	path     string
}

// Open creates or opens the store at opts.Path.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("credential store path is empty")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "credstore").Logger()

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	key, err := loadOrCreateKey(ctx, db, keyPath(opts.Path), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, key: key, log: logger, path: opts.Path}
	if opts.Keychain {
		s.keychain = newKeychain(opts.Path, osKeyring{})
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Save replaces the stored config in one transaction. The logged-in flag and
// token are left alone.
func (s *Store) Save(ctx context.Context, cfg casaos.ServerConfig) error {
	values := map[string]string{
		KeyServerURL:  strings.TrimSpace(cfg.Host),
		KeyServerPort: strconv.Itoa(cfg.Port),
		KeyUseHTTPS:   strconv.FormatBool(cfg.UseTLS),
		KeyUsername:   cfg.Username,
		KeyPassword:   cfg.Password,
	}
	if err := s.writeTx(ctx, configKeys, values); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	s.mirror(KeyPassword, cfg.Password)
	return nil
}

// Load returns the stored config, or casaos.DefaultServerConfig when nothing
// was saved.
func (s *Store) Load(ctx context.Context) (casaos.ServerConfig, error) {
	values, err := s.readAll(ctx)
	if err != nil {
		return casaos.ServerConfig{}, fmt.Errorf("load config: %w", err)
	}
	cfg := casaos.DefaultServerConfig()
	cfg.Host = values[KeyServerURL]
	if raw, ok := values[KeyServerPort]; ok {
		if port, err := strconv.Atoi(raw); err == nil {
			cfg.Port = port
		}
	}
	cfg.UseTLS, _ = strconv.ParseBool(values[KeyUseHTTPS])
	cfg.Username = values[KeyUsername]
	cfg.Password = s.secret(KeyPassword, values[KeyPassword])
	return cfg, nil
}

// Clear removes every stored value in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.writeTx(ctx, allKeys, nil); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	for key := range keychainKeys {
		s.unmirror(key)
	}
	return nil
}

// SetLoggedIn records the logged-in flag.
func (s *Store) SetLoggedIn(ctx context.Context, loggedIn bool) error {
	if err := s.writeTx(ctx, []string{KeyLoggedIn}, map[string]string{KeyLoggedIn: strconv.FormatBool(loggedIn)}); err != nil {
		return fmt.Errorf("set logged in: %w", err)
	}
	return nil
}

// IsLoggedIn is true only when the flag is set and a host is stored.
func (s *Store) IsLoggedIn(ctx context.Context) (bool, error) {
	values, err := s.readAll(ctx)
	if err != nil {
		return false, fmt.Errorf("read logged in: %w", err)
	}
	flag, _ := strconv.ParseBool(values[KeyLoggedIn])
	return flag && strings.TrimSpace(values[KeyServerURL]) != "", nil
}

// HasConfig reports whether a non-blank host is stored.
func (s *Store) HasConfig(ctx context.Context) (bool, error) {
	values, err := s.readAll(ctx)
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	return strings.TrimSpace(values[KeyServerURL]) != "", nil
}

// SaveToken stores the bearer token.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	if err := s.writeTx(ctx, []string{KeyAuthToken}, map[string]string{KeyAuthToken: token}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.mirror(KeyAuthToken, token)
	return nil
}

// LoadToken returns the stored token and whether one exists.
func (s *Store) LoadToken(ctx context.Context) (string, bool, error) {
	values, err := s.readAll(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load token: %w", err)
	}
	raw, ok := values[KeyAuthToken]
	if !ok {
		return "", false, nil
	}
	tok := s.secret(KeyAuthToken, raw)
	return tok, tok != "", nil
}

// ClearToken removes the bearer token.
func (s *Store) ClearToken(ctx context.Context) error {
	if err := s.writeTx(ctx, []string{KeyAuthToken}, nil); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	s.unmirror(KeyAuthToken)
	return nil
}

// writeTx deletes keys and inserts values in a single transaction, so
// readers observe either the old record or the new one.
func (s *Store) writeTx(ctx context.Context, keys []string, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		value, ok := values[key]
		if !ok {
			continue
		}
		enc, err := encryptValue(s.key, value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			key, enc,
		); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// readAll reads the whole record in one statement.
func (s *Store) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string, len(allKeys))
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		plain, err := decryptValue(s.key, raw)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		values[key] = plain
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return values, nil
}

// secret prefers the keychain copy of key and falls back to the table value.
func (s *Store) secret(key, fallback string) string {
	if s.keychain == nil || !keychainKeys[key] {
		return fallback
	}
	val, err := s.keychain.get(key)
	if err != nil {
		if !errors.Is(err, errSecretNotFound) {
			s.log.Debug().Err(err).Str("key", key).Msg("keychain read failed, using encrypted table")
		}
		return fallback
	}
	return val
}

func (s *Store) mirror(key, value string) {
	if s.keychain == nil {
		return
	}
	if value == "" {
		s.unmirror(key)
		return
	}
	if err := s.keychain.set(key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("keychain write failed")
	}
}

func (s *Store) unmirror(key string) {
	if s.keychain == nil {
		return
	}
	if err := s.keychain.delete(key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("keychain delete failed")
	}
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// loadOrCreateKey refuses to mint a new key while encrypted rows exist,
// since those rows would become unreadable.
func loadOrCreateKey(ctx context.Context, db *sql.DB, path string, log zerolog.Logger) ([]byte, error) {
	key, err := loadKey(path, log)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE value LIKE ?`, encPrefix+"%",
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("check encrypted values: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("encryption key %s is missing but the store holds %d encrypted values", path, count)
	}
	return createKey(path, log)
}
