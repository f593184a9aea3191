package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/push"
)

var pushSendTest bool

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage the push subscription for this device",
}

var pushSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Ask for permission and register this device for push",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		mgr, platform := newPushManager(cfg, newAPIClient(cfg), logger, nil)

		sub, err := mgr.Subscribe(cmd.Context())
		rememberPermission(cfg, platform.Permission())
		if err != nil {
			return explain(err)
		}
		printSubscription(mgr, sub)

		if pushSendTest {
			return explain(mgr.TestNotification(cmd.Context()))
		}
		return nil
	},
}

var pushUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove the push subscription and forget the permission answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		mgr, _ := newPushManager(cfg, newAPIClient(cfg), logger, nil)

		removed, err := mgr.Unsubscribe(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if removed {
			fmt.Println("Push subscription removed.")
		} else {
			fmt.Println("No push subscription is held in this session.")
		}
		rememberPermission(cfg, push.PermissionDefault)
		return nil
	},
}

var pushTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Show a local test notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		mgr, _ := newPushManager(cfg, newAPIClient(cfg), logger, nil)
		return explain(mgr.TestNotification(cmd.Context()))
	},
}

var pushStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the push permission state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		mgr, _ := newPushManager(cfg, newAPIClient(cfg), logger, nil)
		state, err := mgr.Sync(cmd.Context())
		fmt.Printf("State: %s\n", state)
		return explain(err)
	},
}

func printSubscription(mgr *push.Manager, sub notifications.Subscription) {
	switch sub.Mode {
	case notifications.ModeFull:
		fmt.Printf("Push enabled (full mode)\n  Endpoint: %s\n", sub.Endpoint)
	default:
		fmt.Println("Notifications enabled (basic mode: shown only while notifysync is running)")
	}
	if notice := mgr.Notice(); notice != nil {
		fmt.Printf("  Reason: %s\n", notice)
	}
}

func init() {
	pushSubscribeCmd.Flags().BoolVar(&pushSendTest, "test", false, "Show a test notification after subscribing")
	pushCmd.AddCommand(pushSubscribeCmd, pushUnsubscribeCmd, pushTestCmd, pushStatusCmd)
	rootCmd.AddCommand(pushCmd)
}
