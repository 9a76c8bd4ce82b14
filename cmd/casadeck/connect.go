package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/five82/casadeck/internal/app"
	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/logtail"
	"github.com/five82/casadeck/internal/ui"
)

type addressFlags struct {
	port  int
	https bool
	http  bool
}

func (f *addressFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.port, "port", 0, "server port (default 80, or 443 with --https)")
	cmd.Flags().BoolVar(&f.https, "https", false, "connect over HTTPS")
	cmd.Flags().BoolVar(&f.http, "http", false, "connect over plain HTTP even on port 443")
	cmd.MarkFlagsMutuallyExclusive("https", "http")
}

// resolve builds the target config from an optional address argument,
// falling back to the stored one.
func (f *addressFlags) resolve(args []string, stored casaos.ServerConfig) (casaos.ServerConfig, error) {
	cfg := stored
	if len(args) > 0 {
		parsed, err := casaos.ParseServerAddress(args[0])
		if err != nil {
			return casaos.ServerConfig{}, err
		}
		cfg.Host, cfg.Port, cfg.UseTLS = parsed.Host, parsed.Port, parsed.UseTLS
	}
	if f.https {
		if !cfg.UseTLS && cfg.Port == casaos.DefaultHTTPPort {
			cfg.Port = casaos.DefaultHTTPSPort
		}
		cfg.UseTLS = true
	}
	if f.http {
		cfg.UseTLS = false
	}
	if f.port > 0 {
		cfg.Port = f.port
	}
	return cfg, cfg.Validate()
}

func newLoginCommand(c *cli) *cobra.Command {
	var (
		addr          addressFlags
		username      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login [address]",
		Short: "Connect to a CasaOS server and remember it",
		Long: `Negotiates a session with the server and stores the address and
credentials in the encrypted credential store. Without credentials the server
is probed anonymously. The address defaults to the last stored server.`,
		Example: `  casadeck login casa.local -u admin
  casadeck login https://10.0.0.2:8443 -u admin --password-stdin < pw.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
				cfg, err := addr.resolve(args, env.Sessions.Config())
				if err != nil {
					return out.Error("Invalid server address", err)
				}
				if cmd.Flags().Changed("user") {
					cfg.Username = strings.TrimSpace(username)
					cfg.Password = ""
				}
				if cfg.Username != "" && (cfg.Password == "" || passwordStdin) {
					pw, err := c.readPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host), passwordStdin)
					if err != nil {
						return out.Error("Failed to read password", err)
					}
					cfg.Password = pw
				}

				env.Sessions.UpdateConfig(cfg)
				res, err := env.Sessions.Negotiate(ctx)
				if err != nil {
					return out.Error("Login interrupted", err)
				}
				if !res.Connected {
					return out.Error("Login failed", errors.New(res.Summary()))
				}
				sess, _ := env.Sessions.Current()
				return out.Success(fmt.Sprintf("%s (%s)", res.Message, cfg.BaseURL()), map[string]any{
					"base_url":      cfg.BaseURL(),
					"authenticated": sess.Authenticated,
					"result":        res,
				})
			})
		},
	}
	addr.register(cmd)
	cmd.Flags().StringVarP(&username, "user", "u", "", "username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// readPassword prompts without echo on a terminal and otherwise reads one
// line from stdin.
func (c *cli) readPassword(prompt string, fromStdin bool) (string, error) {
	if f, ok := c.in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(c.errOut, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(c.errOut)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func newLogoutCommand(c *cli) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session token",
		Long:  "Clears the token and the logged-in flag. With --forget the stored server and credentials are removed too.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
				if err := env.Sessions.Logout(ctx); err != nil {
					return out.Error("Logout failed", err)
				}
				if forget {
					if err := env.Store.Clear(ctx); err != nil {
						return out.Error("Failed to clear credential store", err)
					}
					return out.Success("Logged out and forgot stored server", map[string]any{"forgotten": true})
				}
				return out.Success("Logged out", nil)
			})
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "also remove the stored server and credentials")
	return cmd
}

func newTestCommand(c *cli) *cobra.Command {
	var addr addressFlags
	cmd := &cobra.Command{
		Use:   "test [address]",
		Short: "Check that a server is reachable without logging in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
				cfg, err := addr.resolve(args, env.Sessions.Config())
				if err != nil {
					return out.Error("Invalid server address", err)
				}
				cfg.Username, cfg.Password = "", ""
				res, _ := env.Negotiator.Negotiate(ctx, cfg)
				if !res.Connected {
					return out.Error("Connection failed", errors.New(res.Summary()))
				}
				return out.Success(fmt.Sprintf("Connection OK: %s", res.Message), map[string]any{
					"base_url": cfg.BaseURL(),
					"result":   res,
				})
			})
		},
	}
	addr.register(cmd)
	return cmd
}

type statusReport struct {
	BaseURL       string            `json:"base_url"`
	Authenticated bool              `json:"authenticated"`
	Version       string            `json:"version,omitempty"`
	System        casaos.SystemInfo `json:"system"`
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show CPU, memory, disk and uptime of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
				client, err := connect(ctx, env)
				if err != nil {
					return out.Error("Failed to connect", err)
				}
				info, err := client.SystemInfo(ctx)
				if err != nil {
					return out.Error("Failed to fetch system info", err)
				}
				report := statusReport{BaseURL: client.BaseURL(), System: info, Version: info.Version}
				if report.Version == "" {
					if v, err := client.Version(ctx); err == nil {
						report.Version = v
					}
				}
				if sess, ok := env.Sessions.Current(); ok {
					report.Authenticated = sess.Authenticated
				}
				return out.Print(report, func(w io.Writer) error {
					return writeStatus(w, report)
				})
			})
		},
	}
}

func writeStatus(w io.Writer, r statusReport) error {
	sys := r.System
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Server", r.BaseURL},
		{"Version", orDash(r.Version)},
		{"Uptime", ui.FormatUptime(sys.UptimeDuration())},
		{"CPU", fmt.Sprintf("%.1f%% (%d cores)", ui.UsagePercent(sys.CPU.Usage, 0, 0), sys.CPU.Cores)},
		{"Memory", fmt.Sprintf("%s / %s (%.0f%%)", ui.FormatBytes(sys.Memory.Used), ui.FormatBytes(sys.Memory.Total),
			ui.UsagePercent(sys.Memory.UsagePercent, sys.Memory.Used, sys.Memory.Total))},
		{"Disk", fmt.Sprintf("%s / %s (%.0f%%)", ui.FormatBytes(sys.Disk.Used), ui.FormatBytes(sys.Disk.Total),
			ui.UsagePercent(sys.Disk.UsagePercent, sys.Disk.Used, sys.Disk.Total))},
	}
	if sys.CPU.Model != "" {
		rows[3][1] += " " + sys.CPU.Model
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newURLCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the web UI address of the stored server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
				cfg := env.Sessions.Config()
				if !cfg.IsValid() {
					return out.Error("No server stored", errNotLoggedIn)
				}
				return out.Print(map[string]any{"base_url": cfg.BaseURL(), "server": cfg.Redacted()}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, cfg.BaseURL())
					return err
				})
			})
		},
	}
}

func newLogCommand(c *cli) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the tail of casadeck's own log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd, func(_ context.Context, env *app.Env, out *outputFormatter) error {
				got, err := logtail.Read(env.Config.LogFile, lines)
				if err != nil {
					return out.Error("Failed to read log", err)
				}
				return out.Print(map[string]any{"path": env.Config.LogFile, "lines": got}, func(w io.Writer) error {
					return writeLines(w, got)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines to show (0 for all)")
	return cmd
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
