package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/config"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "notifysync",
	Short: "Notification delivery and sync client",
	Long: `notifysync keeps a local view of your notification inbox in sync with the
server. It reconciles over REST on start, on demand and on an interval,
streams new notifications over an optional realtime channel, and manages
the push subscription for this device. A reference backend is included for
local development.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
