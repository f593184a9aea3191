package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize notifysync configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to connect notifysync to a notification backend and generates a .notifysync.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
