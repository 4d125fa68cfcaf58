package main

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"blockfs/pkg/client"
	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/spf13/cobra"
)

func lsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List directory contents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				entries, err := c.List(ctx, dir, owner)
				if err != nil {
					return fmt.Errorf("failed to list directory: %w", err)
				}

				fmt.Printf("Contents of %s:\n", dir)
				for _, e := range entries {
					fmt.Println(formatEntry(e))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only show entries owned by this user")
	return cmd
}

func formatEntry(e types.Entry) string {
	typeChar := "-"
	name := e.Name
	if e.IsDir {
		typeChar = "d"
		name += "/"
	}
	state := ""
	if !e.IsDir && e.State != types.FileCompleted {
		state = " (" + string(e.State) + ")"
	}
	return fmt.Sprintf("%s %-10s %10s %s %s%s",
		typeChar,
		e.Owner,
		utils.FormatDataSize(e.Size),
		e.ModifiedAt.Format("2006-01-02 15:04"),
		name,
		state)
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				entry, err := c.Mkdir(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to create directory: %w", err)
				}
				fmt.Printf("Created %s\n", entry.Path)
				return nil
			})
		},
	}
}

func rmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				if err := c.Remove(ctx, args[0], recursive); err != nil {
					return fmt.Errorf("failed to remove %s: %w", args[0], err)
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return cmd
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move or rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				if err := c.Move(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to move file: %w", err)
				}
				fmt.Printf("Moved %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file or directory metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				e, err := c.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				kind := "file"
				if e.IsDir {
					kind = "directory"
				}
				fmt.Printf("Path:     %s\n", e.Path)
				fmt.Printf("Type:     %s\n", kind)
				fmt.Printf("Owner:    %s\n", e.Owner)
				if !e.IsDir {
					fmt.Printf("Size:     %s (%d bytes)\n", utils.FormatDataSize(e.Size), e.Size)
					fmt.Printf("State:    %s\n", e.State)
				}
				fmt.Printf("Modified: %s\n", e.ModifiedAt.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func putCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "put <local-file> [remote-path]",
		Short: "Upload a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := "/" + filepath.Base(args[0])
			if len(args) == 2 {
				remote = args[1]
				if strings.HasSuffix(remote, "/") {
					remote = path.Join(remote, filepath.Base(args[0]))
				}
			}
			return withClient(quiet, func(ctx context.Context, c *client.Client) error {
				layout, err := c.Put(ctx, args[0], remote)
				if err != nil {
					return fmt.Errorf("upload failed: %w", err)
				}
				fmt.Printf("Uploaded %s (%s, %d blocks, %s)\n",
					layout.File.Path,
					utils.FormatDataSize(layout.File.Size),
					len(layout.Blocks),
					layout.File.State)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func getCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-file]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := path.Base(args[0])
			if len(args) == 2 {
				local = args[1]
			}
			return withClient(quiet, func(ctx context.Context, c *client.Client) error {
				layout, err := c.Get(ctx, args[0], local)
				if err != nil {
					return fmt.Errorf("download failed: %w", err)
				}
				fmt.Printf("Downloaded %s to %s (%s)\n",
					layout.File.Path, local, utils.FormatDataSize(layout.File.Size))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func layoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <path>",
		Short: "Show a file's blocks and their replicas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				layout, err := c.Layout(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(renderLayout(layout))
				return nil
			})
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [owner]",
		Short: "List every file owned by a user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(true, func(ctx context.Context, c *client.Client) error {
				owner := c.User()
				if len(args) > 0 {
					owner = args[0]
				}
				files, err := c.Search(ctx, owner)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Printf("No files owned by %s\n", owner)
					return nil
				}
				for _, f := range files {
					fmt.Printf("%10s  %-9s  %s\n", utils.FormatDataSize(f.Size), f.State, f.Path)
				}
				return nil
			})
		},
	}
}
