package main

import (
	"fmt"

	"github.com/danmuck/chatlink/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "chatlink.toml"

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a client config file",
	}
	cmd.AddCommand(newConfigInitCmd(v), newConfigValidateCmd(v))
	return cmd
}

func newConfigInitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v, "output", "force"); err != nil {
				return err
			}
			path := v.GetString("output")
			if err := config.WriteTemplate(path, v.GetBool("force")); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", path)
			return err
		},
	}
	cmd.Flags().String("output", defaultConfigPath, "output path for the config template")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func newConfigValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v, "input"); err != nil {
				return err
			}
			path := v.GetString("input")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "validated config at %s (account=%s url=%s)\n", path, cfg.Server.Account, cfg.Server.URL)
			return err
		},
	}
	cmd.Flags().String("input", defaultConfigPath, "config path to validate")
	return cmd
}
