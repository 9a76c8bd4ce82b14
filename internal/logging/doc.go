// Package logging configures zerolog for casadeck.
//
// The TUI owns stdout, so callers normally hand New a file opened with
// OpenFile. SetupStdLog routes anything still using the standard library
// log package into the same sink.
package logging
