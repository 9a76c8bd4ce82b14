package logtail

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Read returns at most maxLines from the end of the file at path. A missing
// file yields no lines. maxLines <= 0 returns every line.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Tail(file, maxLines)
}

// Split is Tail over an in-memory log, as returned by the app logs endpoint.
func Split(text string, maxLines int) []string {
	lines, _ := Tail(strings.NewReader(text), maxLines)
	return lines
}

// Tail keeps the last maxLines lines of r in a ring buffer.
func Tail(r io.Reader, maxLines int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if maxLines <= 0 {
		var all []string
		for scanner.Scan() {
			all = append(all, strings.TrimRight(scanner.Text(), "\r"))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return all, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = strings.TrimRight(scanner.Text(), "\r")
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Level classifies a log line by the first severity token it carries.
type Level int

const (
	LevelNone Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelTokens = []struct {
	token string
	level Level
}{
	{"error", LevelError},
	{"fatal", LevelError},
	{"panic", LevelError},
	{"warn", LevelWarn},
	{"info", LevelInfo},
	{"debug", LevelDebug},
	{"trace", LevelDebug},
}

// DetectLevel recognises plain ("ERROR"), bracketed ("[warn]"), logfmt
// ("level=info") and zerolog JSON ("\"level\":\"debug\"") markers.
func DetectLevel(line string) Level {
	lower := strings.ToLower(line)
	for _, field := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '[' || r == ']' || r == '"' || r == ':' || r == '=' || r == ',' || r == '{' || r == '}' || r == '\t'
	}) {
		for _, lt := range levelTokens {
			if field == lt.token || field == lt.token+"ing" {
				return lt.level
			}
		}
	}
	return LevelNone
}
