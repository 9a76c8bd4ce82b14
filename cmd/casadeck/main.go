package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/casadeck/internal/app"
	"github.com/five82/casadeck/internal/casaos"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &cli{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	if err := newRootCommand(c).ExecuteContext(ctx); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) || !reported.quiet {
			fmt.Fprintf(os.Stderr, "casadeck: %v\n", err)
		}
		return 1
	}
	return 0
}

// cli carries the persistent flags and streams shared by every command.
type cli struct {
	configPath string
	prefsPath  string
	output     string

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func userAgent() string {
	return "casadeck/" + version
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "casadeck",
		Short: "Terminal client for CasaOS servers",
		Long: `casadeck connects to a CasaOS server, shows system status, and manages
installed apps. Run without a subcommand to start the interactive UI.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), app.Options{
				ConfigPath: c.configPath,
				PrefsPath:  c.prefsPath,
				UserAgent:  userAgent(),
			})
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.config/casadeck/config.toml)")
	root.PersistentFlags().StringVar(&c.prefsPath, "prefs", "", "UI preferences file (default ~/.config/casadeck/prefs.toml)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", formatText, "output format: text, json or yaml")

	root.AddCommand(
		newLoginCommand(c),
		newLogoutCommand(c),
		newTestCommand(c),
		newStatusCommand(c),
		newURLCommand(c),
		newAppsCommand(c),
		newFilesCommand(c),
		newLogCommand(c),
	)
	return root
}

func (c *cli) formatter() (*outputFormatter, error) {
	return newOutputFormatter(c.output, c.out, c.errOut)
}

// withEnv bootstraps the shared components, runs fn and closes them again.
func (c *cli) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *app.Env, out *outputFormatter) error) error {
	out, err := c.formatter()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	env, err := app.Bootstrap(ctx, app.EnvOptions{ConfigPath: c.configPath, UserAgent: userAgent()})
	if err != nil {
		return out.Error("Failed to start", err)
	}
	defer func() { _ = env.Close() }()
	return fn(ctx, env, out)
}

var errNotLoggedIn = errors.New("not logged in; run `casadeck login` first")

// connect negotiates the stored server and returns an API client bound to
// the new session.
func connect(ctx context.Context, env *app.Env) (*casaos.Client, error) {
	loggedIn, err := env.Store.IsLoggedIn(ctx)
	if err != nil {
		return nil, err
	}
	if !loggedIn {
		return nil, errNotLoggedIn
	}
	res, err := env.Sessions.Negotiate(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Connected {
		return nil, errors.New(res.Summary())
	}
	return env.Sessions.Client()
}
