package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/casadeck/internal/casaos"
)

type fieldID int

const (
	fieldHost fieldID = iota
	fieldPort
	fieldTLS
	fieldUser
	fieldPass
	fieldCount
)

var fieldLabels = [fieldCount]string{
	fieldHost: "Server",
	fieldPort: "Port",
	fieldTLS:  "HTTPS",
	fieldUser: "Username",
	fieldPass: "Password",
}

// serverForm edits a casaos.ServerConfig. The HTTPS toggle follows the port
// (on for 443) until the user flips it or types a scheme.
type serverForm struct {
	inputs     [fieldCount]textinput.Model
	useTLS     bool
	tlsTouched bool
	focus      fieldID
	err        string
	info       string
}

func newServerForm(cfg casaos.ServerConfig) serverForm {
	var f serverForm
	for i := range f.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 253
		_ = in.Cursor.SetMode(cursor.CursorStatic)
		f.inputs[i] = in
	}
	f.inputs[fieldHost].Placeholder = "casa.local or https://10.0.0.2"
	f.inputs[fieldPort].Placeholder = "80"
	f.inputs[fieldPort].CharLimit = 5
	f.inputs[fieldUser].Placeholder = "optional"
	f.inputs[fieldPass].Placeholder = "optional"
	f.inputs[fieldPass].EchoMode = textinput.EchoPassword
	f.inputs[fieldPass].EchoCharacter = '•'

	f.inputs[fieldHost].SetValue(cfg.Host)
	if cfg.Host != "" && cfg.Port > 0 {
		f.inputs[fieldPort].SetValue(strconv.Itoa(cfg.Port))
	}
	f.inputs[fieldUser].SetValue(cfg.Username)
	f.inputs[fieldPass].SetValue(cfg.Password)
	f.useTLS = cfg.UseTLS
	f.tlsTouched = cfg.Host != ""
	f.setFocus(fieldHost)
	return f
}

func (f *serverForm) setFocus(id fieldID) {
	f.focus = id
	for i := range f.inputs {
		if fieldID(i) == id {
			f.inputs[i].Focus()
		} else {
			f.inputs[i].Blur()
		}
	}
}

func (f *serverForm) move(delta int) {
	next := (int(f.focus) + delta + int(fieldCount)) % int(fieldCount)
	f.setFocus(fieldID(next))
}

// update routes a key to the form. Submission keys are handled by the caller.
func (f serverForm) update(msg tea.KeyMsg, keys keyMap) (serverForm, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.NextField):
		f.move(1)
		return f, nil
	case key.Matches(msg, keys.PrevField):
		f.move(-1)
		return f, nil
	}
	if f.focus == fieldTLS {
		if key.Matches(msg, keys.ToggleTLS) {
			f.useTLS = !f.effectiveTLS()
			f.tlsTouched = true
		}
		return f, nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	f.err = ""
	return f, cmd
}

func (f serverForm) value(id fieldID) string {
	return strings.TrimSpace(f.inputs[id].Value())
}

// effectiveTLS is the toggle state shown to the user.
func (f serverForm) effectiveTLS() bool {
	host := f.value(fieldHost)
	if strings.Contains(host, "://") {
		return strings.HasPrefix(strings.ToLower(host), "https://")
	}
	if f.tlsTouched {
		return f.useTLS
	}
	if cfg, err := f.address(); err == nil {
		return cfg.UseTLS
	}
	return false
}

// address parses the host and port fields without applying the toggle.
func (f serverForm) address() (casaos.ServerConfig, error) {
	cfg, err := casaos.ParseServerAddress(f.value(fieldHost))
	if err != nil {
		return casaos.ServerConfig{}, err
	}
	if raw := f.value(fieldPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return casaos.ServerConfig{}, &casaos.Error{Kind: casaos.KindValidation, Op: "parse port", Message: "port must be a number"}
		}
		cfg.Port = port
		if !strings.Contains(f.value(fieldHost), "://") {
			cfg.UseTLS = port == casaos.DefaultHTTPSPort
		}
	}
	return cfg, nil
}

// config builds the ServerConfig the form describes.
func (f serverForm) config() (casaos.ServerConfig, error) {
	cfg, err := f.address()
	if err != nil {
		return casaos.ServerConfig{}, err
	}
	cfg.UseTLS = f.effectiveTLS()
	cfg.Username = f.value(fieldUser)
	cfg.Password = f.inputs[fieldPass].Value()
	if err := cfg.Validate(); err != nil {
		return casaos.ServerConfig{}, err
	}
	return cfg, nil
}

func (f serverForm) view(styles Styles, width int, busy bool) string {
	var b strings.Builder
	labelWidth := 10
	for i := fieldID(0); i < fieldCount; i++ {
		label := padRight(fieldLabels[i], labelWidth)
		marker := "  "
		labelStyle := styles.MutedText
		if i == f.focus && !busy {
			marker = styles.AccentText.Render("› ")
			labelStyle = styles.AccentText
		}
		b.WriteString(marker)
		b.WriteString(labelStyle.Render(label))
		if i == fieldTLS {
			box := "[ ]"
			if f.effectiveTLS() {
				box = "[x]"
			}
			b.WriteString(styles.Text.Render(box))
		} else {
			in := f.inputs[i]
			in.Width = max(10, width-labelWidth-6)
			b.WriteString(in.View())
		}
		b.WriteString("\n")
	}
	if f.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.DangerText.Render(f.err))
		b.WriteString("\n")
	} else if f.info != "" {
		b.WriteString("\n")
		b.WriteString(styles.SuccessText.Render(f.info))
		b.WriteString("\n")
	}
	return b.String()
}
