package main

import (
	"fmt"
	"os"
	"path/filepath"

	"blockfs/pkg/config"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create blockfs configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			Run: func(cmd *cobra.Command, args []string) {
				if path := config.ResolveConfigPath(configFile); path != "" {
					fmt.Println(path)
					return
				}
				fmt.Printf("none (would read %s)\n", config.DefaultConfigPath())
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration after flags, environment and file",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := loadConfig(); err != nil {
					return err
				}
				return toml.NewEncoder(os.Stdout).Encode(v.AllSettings())
			},
		},
		configInitCmd(),
	)
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file holding every default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = config.ExpandPath(args[0])
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			fresh := config.New()
			write := fresh.SafeWriteConfigAs
			if force {
				write = fresh.WriteConfigAs
			}
			if err := write(path); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
