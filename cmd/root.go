package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/polecam/cmd/cameras"
	"github.com/tphakala/polecam/cmd/notify"
	"github.com/tphakala/polecam/cmd/run"
	"github.com/tphakala/polecam/internal/buildinfo"
	"github.com/tphakala/polecam/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "polecam",
		Short:         "Line-scan camera pole supervisor",
		Version:       buildinfo.Current("").GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: search ., ~/.config/polecam, /etc/polecam)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		run.Command(),
		cameras.Command(),
		notify.Command(),
	)

	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		if _, err := conf.Load(); err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		return nil
	}

	return rootCmd
}
