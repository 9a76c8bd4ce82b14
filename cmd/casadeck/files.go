package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/five82/casadeck/internal/casaos"
	"github.com/five82/casadeck/internal/ui"
)

const defaultFilesRoot = "/DATA"

func newFilesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and manage files on the server",
	}
	cmd.AddCommand(
		newFilesListCommand(c),
		newFilesInfoCommand(c),
		newFilesMkdirCommand(c),
		newFilesRemoveCommand(c),
		newFilesPairCommand(c, "mv <src> <dst>", "Move a file or directory", "Moved", (*casaos.Client).MoveFile),
		newFilesPairCommand(c, "cp <src> <dst>", "Copy a file or directory", "Copied", (*casaos.Client).CopyFile),
		newFilesPairCommand(c, "rename <path> <new-path>", "Rename a file or directory", "Renamed", (*casaos.Client).RenameFile),
	)
	return cmd
}

func newFilesListCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [path]",
		Aliases: []string{"list"},
		Short:   "List a directory (default " + defaultFilesRoot + ")",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultFilesRoot
			if len(args) > 0 {
				path = args[0]
			}
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				listing, err := api.ListFiles(ctx, path)
				if err != nil {
					return out.Error("Failed to list "+path, err)
				}
				if listing.Path == "" {
					listing.Path = path
				}
				if listing.Content == nil {
					listing.Content = []casaos.FileInfo{}
				}
				sortEntries(listing.Content)
				return out.Print(listing, func(w io.Writer) error {
					return writeListing(w, listing)
				})
			})
		},
	}
}

// sortEntries puts directories first, then sorts by name.
func sortEntries(entries []casaos.FileInfo) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
}

func writeListing(w io.Writer, l casaos.DirectoryListing) error {
	if len(l.Content) == 0 {
		_, err := fmt.Fprintf(w, "%s is empty\n", l.Path)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range l.Content {
		size := ui.FormatBytes(uint64(max(e.Size, 0)))
		name := e.Name
		if e.IsDir {
			size = "-"
			name += "/"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", size, orDash(e.Modified), name); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newFilesInfoCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show metadata for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				info, err := api.FileInfo(ctx, args[0])
				if err != nil {
					return out.Error("Failed to stat "+args[0], err)
				}
				return out.Print(info, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					kind := "file"
					if info.IsDir {
						kind = "directory"
					}
					_, _ = fmt.Fprintf(tw, "Path\t%s\n", orDash(info.Path))
					_, _ = fmt.Fprintf(tw, "Type\t%s\n", kind)
					_, _ = fmt.Fprintf(tw, "Size\t%s\n", ui.FormatBytes(uint64(max(info.Size, 0))))
					_, _ = fmt.Fprintf(tw, "Modified\t%s\n", orDash(info.Modified))
					_, _ = fmt.Fprintf(tw, "Mode\t%s\n", orDash(info.Mode))
					return tw.Flush()
				})
			})
		},
	}
}

func newFilesMkdirCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				if err := api.CreateDirectory(ctx, args[0]); err != nil {
					return out.Error("Failed to create "+args[0], err)
				}
				return out.Success("Created "+args[0], map[string]any{"path": args[0]})
			})
		},
	}
}

func newFilesRemoveCommand(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := c.confirm(fmt.Sprintf("Delete %s?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("aborted")
				}
			}
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				if err := api.DeleteFile(ctx, args[0]); err != nil {
					return out.Error("Failed to delete "+args[0], err)
				}
				return out.Success("Deleted "+args[0], map[string]any{"path": args[0]})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

type pairOp func(c *casaos.Client, ctx context.Context, src, dst string) error

func newFilesPairCommand(c *cli, use, short, done string, op pairOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAPI(cmd, func(ctx context.Context, api *casaos.Client, out *outputFormatter) error {
				if err := op(api, ctx, args[0], args[1]); err != nil {
					return out.Error(fmt.Sprintf("Failed: %s -> %s", args[0], args[1]), err)
				}
				return out.Success(fmt.Sprintf("%s %s -> %s", done, args[0], args[1]), map[string]any{"src": args[0], "dst": args[1]})
			})
		},
	}
}
