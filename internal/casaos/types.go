package casaos

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Success decodes the envelope's success field. CasaOS builds disagree on
// whether it is a boolean or a numeric code, so both are accepted; numeric
// codes count as success when they are 2xx.
type Success bool

func (s *Success) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "true":
		*s = true
		return nil
	case "false", "null":
		*s = false
		return nil
	}
	code, err := strconv.ParseFloat(strings.Trim(string(trimmed), `"`), 64)
	if err != nil {
		return err
	}
	*s = code >= 200 && code < 300
	return nil
}

// Envelope wraps most REST responses.
type Envelope[T any] struct {
	Success Success `json:"success"`
	Message string  `json:"message,omitempty"`
	Data    T       `json:"data,omitempty"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the normalized login outcome.
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// loginPayload accepts the flat {success, token, message} shape as well as
// tokens nested in data, either as a string or as {access_token}.
type loginPayload struct {
	Success Success `json:"success"`
	Message string  `json:"message"`
	Token   string  `json:"token"`
	Data    *struct {
		Token json.RawMessage `json:"token"`
	} `json:"data"`
}

func (p loginPayload) token() string {
	if tok := strings.TrimSpace(p.Token); tok != "" {
		return tok
	}
	if p.Data == nil || len(p.Data.Token) == 0 {
		return ""
	}
	var flat string
	if err := json.Unmarshal(p.Data.Token, &flat); err == nil {
		return strings.TrimSpace(flat)
	}
	var nested struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(p.Data.Token, &nested); err == nil {
		return strings.TrimSpace(nested.AccessToken)
	}
	return ""
}

// SystemHealth mirrors /v1/sys/health.
type SystemHealth struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// SystemInfo mirrors /v1/sys/hardware.
type SystemInfo struct {
	CPU     CPUInfo    `json:"cpu"`
	Memory  MemoryInfo `json:"memory"`
	Disk    DiskInfo   `json:"disk"`
	Uptime  int64      `json:"uptime"`
	Version string     `json:"version"`
}

// UptimeDuration converts the uptime in seconds to a time.Duration.
func (s SystemInfo) UptimeDuration() time.Duration {
	if s.Uptime <= 0 {
		return 0
	}
	return time.Duration(s.Uptime) * time.Second
}

// CPUInfo describes processor load.
type CPUInfo struct {
	Model string  `json:"model"`
	Cores int     `json:"cores"`
	Usage float64 `json:"usage"`
}

// MemoryInfo describes memory usage in bytes.
type MemoryInfo struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
}

// DiskInfo describes aggregate disk usage in bytes.
type DiskInfo struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
}

// AppStatus is the lifecycle state reported for an installed app.
type AppStatus string

const (
	AppRunning    AppStatus = "running"
	AppStopped    AppStatus = "stopped"
	AppStarting   AppStatus = "starting"
	AppStopping   AppStatus = "stopping"
	AppRestarting AppStatus = "restarting"
	AppError      AppStatus = "error"
	AppUnknown    AppStatus = "unknown"
)

// Normalize lowercases the status and maps blanks to AppUnknown.
func (s AppStatus) Normalize() AppStatus {
	norm := AppStatus(strings.ToLower(strings.TrimSpace(string(s))))
	if norm == "" {
		return AppUnknown
	}
	return norm
}

// Label renders the status for display.
func (s AppStatus) Label() string {
	norm := string(s.Normalize())
	return strings.ToUpper(norm[:1]) + norm[1:]
}

// AppInfo describes an installed app.
type AppInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	Image       string    `json:"image,omitempty"`
	Status      AppStatus `json:"status"`
	Port        int       `json:"port,omitempty"`
}

// Running reports whether the app is in the running state.
func (a AppInfo) Running() bool {
	return a.Status.Normalize() == AppRunning
}

// PrimaryAction is the lifecycle action offered by default: stop for running
// apps, start for everything else.
func (a AppInfo) PrimaryAction() AppAction {
	if a.Running() {
		return ActionStop
	}
	return ActionStart
}

// AppAction is a lifecycle verb accepted by the app management API.
type AppAction string

const (
	ActionStart   AppAction = "start"
	ActionStop    AppAction = "stop"
	ActionRestart AppAction = "restart"
)

// FileInfo mirrors /v3/file/info entries.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified string `json:"modified,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// ModifiedTime parses Modified when possible.
func (f FileInfo) ModifiedTime() time.Time {
	return parseTime(f.Modified)
}

// DirectoryListing mirrors /v3/file/list.
type DirectoryListing struct {
	Path    string     `json:"path"`
	Content []FileInfo `json:"content"`
	Total   int        `json:"total,omitempty"`
}

// Page is a raw response used by reachability checks.
type Page struct {
	StatusCode int
	Body       string
}

// OK reports whether the status code is 2xx.
func (p Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	return time.Time{}
}
