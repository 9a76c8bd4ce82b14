package casaos

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSuccess_AcceptsBoolAndCode(t *testing.T) {
	tests := map[string]bool{
		`{"success":true}`:  true,
		`{"success":false}`: false,
		`{"success":200}`:   true,
		`{"success":"204"}`: true,
		`{"success":500}`:   false,
		`{"success":null}`:  false,
		`{}`:                false,
	}
	for raw, want := range tests {
		var env Envelope[json.RawMessage]
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if bool(env.Success) != want {
			t.Fatalf("%s: success = %v, want %v", raw, env.Success, want)
		}
	}

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal([]byte(`{"success":"yes"}`), &env); err == nil {
		t.Fatal("expected error for non-numeric success string")
	}
}

func TestAppStatus_Label(t *testing.T) {
	cases := map[AppStatus]string{
		"running":  "Running",
		"STOPPED":  "Stopped",
		" ":        "Unknown",
		"":         "Unknown",
		"starting": "Starting",
	}
	for in, want := range cases {
		if got := in.Label(); got != want {
			t.Fatalf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAppInfo_PrimaryAction(t *testing.T) {
	if got := (AppInfo{Status: "Running"}).PrimaryAction(); got != ActionStop {
		t.Fatalf("running app action = %q, want stop", got)
	}
	for _, status := range []AppStatus{AppStopped, AppError, AppUnknown, "paused"} {
		if got := (AppInfo{Status: status}).PrimaryAction(); got != ActionStart {
			t.Fatalf("%s app action = %q, want start", status, got)
		}
	}
}

func TestFileInfo_ModifiedTime(t *testing.T) {
	f := FileInfo{Modified: "2024-05-01T10:00:00Z"}
	if got := f.ModifiedTime(); !got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("ModifiedTime = %v", got)
	}
	if got := (FileInfo{Modified: "1714557600"}).ModifiedTime(); got.Unix() != 1714557600 {
		t.Fatalf("unix ModifiedTime = %v", got)
	}
	if got := (FileInfo{Modified: "garbage"}).ModifiedTime(); !got.IsZero() {
		t.Fatalf("garbage ModifiedTime = %v, want zero", got)
	}
}

func TestSystemInfo_UptimeDuration(t *testing.T) {
	if got := (SystemInfo{Uptime: 90}).UptimeDuration(); got != 90*time.Second {
		t.Fatalf("UptimeDuration = %v", got)
	}
	if got := (SystemInfo{Uptime: -5}).UptimeDuration(); got != 0 {
		t.Fatalf("negative UptimeDuration = %v", got)
	}
}
