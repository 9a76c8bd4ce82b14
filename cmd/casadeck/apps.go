package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/five82/casadeck/internal/app"
	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/logtail"
)

func newAppsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apps",
		Aliases: []string{"app"},
		Short:   "List and control installed apps",
	}
	cmd.AddCommand(
		newAppsListCommand(c),
		newAppsShowCommand(c),
		newAppActionCommand(c, casaos.ActionStart, "Start an app"),
		newAppActionCommand(c, casaos.ActionStop, "Stop an app"),
		newAppActionCommand(c, casaos.ActionRestart, "Restart an app"),
		newAppsRemoveCommand(c),
		newAppsLogsCommand(c),
	)
	return cmd
}

func newAppsListCommand(c *cli) *cobra.Command {
	var runningOnly bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed apps",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				apps, err := api.ListApps(ctx)
				if err != nil {
					return out.Error("Failed to list apps", err)
				}
				if runningOnly {
					apps = filterRunning(apps)
				}
				if apps == nil {
					apps = []casaos.AppInfo{}
				}
				return out.Print(map[string]any{"apps": apps}, func(w io.Writer) error {
					return writeApps(w, apps)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&runningOnly, "running", false, "only show running apps")
	return cmd
}

func filterRunning(apps []casaos.AppInfo) []casaos.AppInfo {
	var out []casaos.AppInfo
	for _, a := range apps {
		if a.Running() {
			out = append(out, a)
		}
	}
	return out
}

func writeApps(w io.Writer, apps []casaos.AppInfo) error {
	if len(apps) == 0 {
		_, err := fmt.Fprintln(w, "No apps installed")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPORT")
	for _, a := range apps {
		port := "-"
		if a.Port > 0 {
			port = strconv.Itoa(a.Port)
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, name, a.Status.Normalize().Label(), port); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newAppsShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show details of one app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				info, err := api.GetApp(ctx, args[0])
				if err != nil {
					return out.Error("Failed to fetch app", err)
				}
				return out.Print(info, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					_, _ = fmt.Fprintf(tw, "ID\t%s\n", info.ID)
					_, _ = fmt.Fprintf(tw, "Name\t%s\n", orDash(info.Name))
					_, _ = fmt.Fprintf(tw, "Status\t%s\n", info.Status.Normalize().Label())
					_, _ = fmt.Fprintf(tw, "Image\t%s\n", orDash(info.Image))
					if info.Port > 0 {
						_, _ = fmt.Fprintf(tw, "Port\t%d\n", info.Port)
					}
					if info.Description != "" {
						_, _ = fmt.Fprintf(tw, "Description\t%s\n", info.Description)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newAppActionCommand(c *cli, action casaos.AppAction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				id := args[0]
				if err := api.AppAction(ctx, id, action); err != nil {
					return out.Error(fmt.Sprintf("Failed to %s %s", action, id), err)
				}
				return out.Success(fmt.Sprintf("Requested %s of %s", action, id), map[string]any{"id": id, "action": action})
			})
		},
	}
}

func newAppsRemoveCommand(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Uninstall an app",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !yes {
				ok, err := c.confirm(fmt.Sprintf("Remove %s?", id))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("aborted")
				}
			}
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				if err := api.RemoveApp(ctx, id); err != nil {
					return out.Error("Failed to remove "+id, err)
				}
				return out.Success("Removed "+id, map[string]any{"id": id})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newAppsLogsCommand(c *cli) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Print the tail of an app's container log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				raw, err := api.AppLogs(ctx, args[0], lines)
				if err != nil {
					return out.Error("Failed to fetch logs", err)
				}
				got := logtail.Split(raw, lines)
				return out.Print(map[string]any{"id": args[0], "lines": got}, func(w io.Writer) error {
					return writeLines(w, got)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines to show")
	return cmd
}

// withAPI is withEnv plus a negotiated session.
func (c *cli) withAPI(cmd *cobra.Command, fn func(ctx context.Context, api *casaos.Client, out *outputFormatter) error) error {
	return c.withEnv(cmd, func(ctx context.Context, env *app.Env, out *outputFormatter) error {
		api, err := connect(ctx, env)
		if err != nil {
			return out.Error("Failed to connect", err)
		}
		return fn(ctx, api, out)
	})
}

// confirm asks a yes/no question. Without a terminal it refuses so scripts
// must pass --yes.
func (c *cli) confirm(question string) (bool, error) {
	f, ok := c.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false, errors.New("refusing to continue without a terminal; pass --yes")
	}
	_, _ = fmt.Fprintf(c.errOut, "%s [y/N] ", question)
	answer, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
