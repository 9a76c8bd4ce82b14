package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ParseLevel maps debug|info|warn|error to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to w. Format "console" renders human readable
// lines; anything else writes JSON.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Init builds a logger with New, installs it as the zerolog global and
// routes the stdlib log package through it.
func Init(level, format string, w io.Writer) zerolog.Logger {
	l := New(level, format, w)
	zlog.Logger = l
	zerolog.DefaultContextLogger = &l
	SetupStdLog(l)
	return l
}

// OpenFile opens path for appending, creating parent directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// writerAdapter forwards stdlib log output to a zerolog logger.
type writerAdapter struct {
	l     zerolog.Logger
	level zerolog.Level
}

func (w writerAdapter) Write(p []byte) (int, error) {
	msg := bytes.TrimRight(p, "\r\n")
	w.l.WithLevel(w.level).Str("source", "stdlib").Msg(string(msg))
	return len(p), nil
}

// SetupStdLog routes the standard library log package through l at warn.
func SetupStdLog(l zerolog.Logger) {
	log.SetFlags(0)
	log.SetOutput(writerAdapter{l: l, level: zerolog.WarnLevel})
}
