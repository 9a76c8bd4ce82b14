// Package credstore persists the last known server config, the logged-in
// flag and the bearer token.
//
// Values live in a single SQLite table (modernc.org/sqlite, no cgo), one row
// per record field, each sealed with AES-256-GCM and stored as
// "enc:v1:<base64>". The key is a 32-byte file created with mode 0600 next
// to the database. Save and Clear run in one transaction so Load never
// observes a half-written record.
//
// With Options.Keychain set, the password and token are also mirrored into
// the OS keychain through go-keyring. Reads try the keychain first and fall
// back to the table; a keychain call that hangs disables the mirror for the
// rest of the process.
package credstore
