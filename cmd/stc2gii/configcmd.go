package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/stc2gii/internal/logger"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:               "config",
		Short:             "Show or create the stc2gii configuration",
		PersistentPreRunE: a.setup,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Long: `init writes the effective configuration (defaults, config file and flags
merged) to path, or to config.yaml in the user config directory when no
path is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error
			if len(args) == 1 {
				path = args[0]
				err = a.cfg.SaveTo(path)
			} else {
				path, err = a.cfg.Save()
			}
			if err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			logger.Info("wrote configuration", zap.String("path", path))
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}
