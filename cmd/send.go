package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
	"github.com/ziadkadry99/notifysync/internal/progress"
)

var (
	sendTitle     string
	sendMessage   string
	sendType      string
	sendPriority  string
	sendActionURL string
	sendCount     int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Create notifications for the configured user",
	Long: `Creates one or more notifications through the backend. The backend stores
them, broadcasts them on the realtime channel and relays them to push
endpoints, which makes this useful for exercising a running watch session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendTitle == "" {
			return fmt.Errorf("--title is required")
		}
		priority := notifications.Priority(sendPriority)
		if !priority.Valid() {
			return fmt.Errorf("invalid --priority %q: must be one of low, medium, high, critical", sendPriority)
		}
		if sendCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}
		client := newAPIClient(cfg)

		reporter := progress.NewReporter("Sending notifications", os.Stderr)
		if sendCount > 1 {
			reporter.Start(sendCount)
			defer reporter.Finish()
		}

		for i := 1; i <= sendCount; i++ {
			title := sendTitle
			if sendCount > 1 {
				title = fmt.Sprintf("%s #%d", sendTitle, i)
			}
			created, err := client.Create(cmd.Context(), notifyapi.NewNotification{
				Type:      notifications.NotificationType(sendType),
				Priority:  priority,
				Title:     title,
				Message:   sendMessage,
				ActionURL: sendActionURL,
			})
			if err != nil {
				return err
			}
			if sendCount == 1 {
				fmt.Printf("Sent %s\n", created.ID)
				continue
			}
			reporter.Update(i, "sent "+created.ID)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "Notification title")
	sendCmd.Flags().StringVar(&sendMessage, "message", "", "Notification body")
	sendCmd.Flags().StringVar(&sendType, "type", string(notifications.TypeAdminMessage), "Notification type")
	sendCmd.Flags().StringVar(&sendPriority, "priority", string(notifications.PriorityMedium), "Priority: low, medium, high or critical")
	sendCmd.Flags().StringVar(&sendActionURL, "action-url", "", "URL opened when the notification is clicked")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of notifications to send")
	rootCmd.AddCommand(sendCmd)
}
