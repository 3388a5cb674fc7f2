package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "CHATLINK"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "chatlinkctl",
		Short:         "chatlinkctl: run a chat client session from the terminal",
		Long:          "chatlinkctl signs in to a chat server over WebSocket, keeps the session alive, tracks notices and serves a local status surface.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(
		newConnectCmd(v),
		newConfigCmd(v),
	)
	return rootCmd
}

// bindFlags lets CHATLINK_<FLAG> override flags that were not set.
func bindFlags(cmd *cobra.Command, v *viper.Viper, names ...string) error {
	for _, name := range names {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
