package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read or change notification preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}
		prefs, err := newAPIClient(cfg).Preferences(cmd.Context())
		if err != nil {
			return err
		}
		printPreferences(prefs)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Update preference flags",
	Long: `Updates one or more preference flags. Values "true" and "false" are sent
as booleans; anything else is sent as a string. For example:

  notifysync prefs set push=true min_push_priority=high api_error=false`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := parsePreferences(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}
		prefs, err := newAPIClient(cfg).UpdatePreferences(cmd.Context(), update)
		if err != nil {
			return err
		}
		printPreferences(prefs)
		return nil
	},
}

func parsePreferences(args []string) (notifications.Preferences, error) {
	prefs := notifications.Preferences{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid preference %q: expected key=value", arg)
		}
		switch value {
		case "true", "false":
			prefs[key] = value == "true"
		default:
			prefs[key] = value
		}
	}
	return prefs, nil
}

func printPreferences(prefs notifications.Preferences) {
	if len(prefs) == 0 {
		fmt.Println("No preferences set.")
		return
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %v\n", k, prefs[k])
	}
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
