package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/five82/casadeck/internal/casaos"
)

func TestNewOutputFormatter_RejectsUnknown(t *testing.T) {
	_, err := newOutputFormatter("xml", io.Discard, io.Discard)
	assert.Error(t, err)

	f, err := newOutputFormatter(" JSON ", io.Discard, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, formatJSON, f.format)

	f, err = newOutputFormatter("", io.Discard, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, formatText, f.format)
}

func TestOutputFormatter_TextCallsRenderer(t *testing.T) {
	var out bytes.Buffer
	f, err := newOutputFormatter(formatText, &out, io.Discard)
	require.NoError(t, err)

	require.NoError(t, f.Print(map[string]any{"ignored": true}, func(w io.Writer) error {
		_, err := io.WriteString(w, "rendered\n")
		return err
	}))
	assert.Equal(t, "rendered\n", out.String())
}

func TestOutputFormatter_JSON(t *testing.T) {
	var out bytes.Buffer
	f, err := newOutputFormatter(formatJSON, &out, io.Discard)
	require.NoError(t, err)

	app := casaos.AppInfo{ID: "jellyfin", Name: "Jellyfin", Status: casaos.AppRunning, Port: 8096}
	require.NoError(t, f.Print(app, nil))

	var got casaos.AppInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, app, got)
}

func TestOutputFormatter_YAMLUsesJSONKeys(t *testing.T) {
	var out bytes.Buffer
	f, err := newOutputFormatter(formatYAML, &out, io.Discard)
	require.NoError(t, err)

	info := casaos.SystemInfo{Memory: casaos.MemoryInfo{Total: 8, UsagePercent: 12.5}, Version: "0.4.4"}
	require.NoError(t, f.Print(info, nil))

	text := out.String()
	assert.Contains(t, text, "usage_percent: 12.5")
	assert.Contains(t, text, "version: 0.4.4")
	assert.NotContains(t, text, "{", "block style expected")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "0.4.4", doc["version"])
}

func TestToYAML_QuotesAmbiguousStrings(t *testing.T) {
	b, err := toYAML(map[string]any{"version": "1.0", "flag": "true"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(b, &doc))
	assert.Equal(t, "1.0", doc["version"])
	assert.Equal(t, "true", doc["flag"])
}

func TestOutputFormatter_Success(t *testing.T) {
	var out bytes.Buffer
	f, err := newOutputFormatter(formatJSON, &out, io.Discard)
	require.NoError(t, err)

	require.NoError(t, f.Success("Logged out", map[string]any{"forgotten": true}))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "Logged out", doc["message"])
	assert.Equal(t, true, doc["forgotten"])
}

func TestOutputFormatter_ErrorStructuredIsQuiet(t *testing.T) {
	var errOut bytes.Buffer
	f, err := newOutputFormatter(formatJSON, io.Discard, &errOut)
	require.NoError(t, err)

	cause := errors.New("boom")
	got := f.Error("Failed to connect", cause)
	assert.ErrorIs(t, got, cause)

	var reported reportedError
	require.ErrorAs(t, got, &reported)
	assert.True(t, reported.quiet)
	assert.Contains(t, errOut.String(), `"details": "boom"`)
}

func TestOutputFormatter_ErrorTextIsPrintedByMain(t *testing.T) {
	var errOut bytes.Buffer
	f, err := newOutputFormatter(formatText, io.Discard, &errOut)
	require.NoError(t, err)

	got := f.Error("Failed to connect", errors.New("boom"))
	assert.Equal(t, "Failed to connect: boom", got.Error())
	assert.Empty(t, errOut.String())

	var reported reportedError
	require.ErrorAs(t, got, &reported)
	assert.False(t, reported.quiet)
}
