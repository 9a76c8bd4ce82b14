package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// outputFormatter renders command results as text, JSON or YAML.
type outputFormatter struct {
	format string
	out    io.Writer
	errOut io.Writer
}

func newOutputFormatter(format string, out, errOut io.Writer) (*outputFormatter, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "", formatText:
		f = formatText
	case formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format %q (want text, json or yaml)", format)
	}
	return &outputFormatter{format: f, out: out, errOut: errOut}, nil
}

func (f *outputFormatter) structured() bool {
	return f.format != formatText
}

// Print writes data in the structured formats and calls text otherwise.
func (f *outputFormatter) Print(data any, text func(w io.Writer) error) error {
	switch f.format {
	case formatJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(f.out, string(b))
		return err
	case formatYAML:
		b, err := toYAML(data)
		if err != nil {
			return err
		}
		_, err = f.out.Write(b)
		return err
	}
	if text == nil {
		return nil
	}
	return text(f.out)
}

// Success prints message, or a {"success": true} document with extra fields.
func (f *outputFormatter) Success(message string, data map[string]any) error {
	if !f.structured() {
		_, err := fmt.Fprintln(f.out, message)
		return err
	}
	doc := map[string]any{"success": true, "message": message}
	for k, v := range data {
		doc[k] = v
	}
	return f.Print(doc, nil)
}

// Error reports a failure on errOut and returns it wrapped for the exit code.
func (f *outputFormatter) Error(message string, err error) error {
	if f.structured() {
		doc := map[string]any{"success": false, "error": message}
		if err != nil {
			doc["details"] = err.Error()
		}
		if f.format == formatYAML {
			b, _ := toYAML(doc)
			_, _ = f.errOut.Write(b)
		} else {
			b, _ := json.MarshalIndent(doc, "", "  ")
			_, _ = fmt.Fprintln(f.errOut, string(b))
		}
	}
	return reportedError{msg: message, err: err, quiet: f.structured()}
}

// reportedError marks an error the formatter already printed in structured
// form, so main does not print it a second time.
type reportedError struct {
	msg   string
	err   error
	quiet bool
}

func (e reportedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e reportedError) Unwrap() error { return e.err }

// toYAML goes through JSON so YAML keys match the json tags.
func toYAML(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("convert to yaml: %w", err)
	}
	resetStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return out, nil
}

// resetStyle drops the flow and quoting styles carried over from JSON.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		resetStyle(c)
	}
}
