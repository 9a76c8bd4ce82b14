// Package logtail provides tail-style reading and level detection for logs.
//
// # Reading
//
// Tail keeps the last N lines of a stream in a ring buffer, so memory stays
// O(N) regardless of input size. Read applies it to a file (a missing file
// yields no lines) and Split to an in-memory string such as the body of the
// app logs endpoint.
//
//	lines, err := logtail.Read(cfg.LogFile, 400)
//	lines := logtail.Split(body, 400)
//
// # Levels
//
// DetectLevel inspects a line for a severity token so the UI can colour it.
// It understands plain words, bracketed tokens, logfmt pairs and zerolog
// JSON fields.
package logtail
