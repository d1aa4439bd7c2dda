package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/detscan/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a configuration file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				file = args[0]
			}
			if err := config.GenerateDefaultConfigFile(file); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", file)
			return err
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			shown := *c.cfg
			if shown.Artifacts.Mirror.SecretKey != "" {
				shown.Artifacts.Mirror.SecretKey = "********"
			}
			if err := enc.Encode(&shown); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.GetConfigSearchPaths() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathsCmd)
	return cmd
}
