package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/consumers"
	"github.com/ziadkadry99/notifysync/internal/store"
)

var (
	listFilter string
	listPages  int
	listHTML   string
)

// withStore loads config, builds a store over the REST client and runs fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
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
	st := newStore(cfg, newAPIClient(cfg), nil, logger)
	return fn(cmd.Context(), st)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			if err := st.Reconcile(ctx); err != nil {
				return err
			}
			for i := 1; i < listPages && st.Snapshot().HasMore; i++ {
				if err := st.LoadMore(ctx); err != nil {
					return err
				}
			}

			page := consumers.NewPage(st.Snapshot(), consumers.ParseFilter(listFilter))
			if listHTML == "" {
				consumers.RenderPage(os.Stdout, page)
				return nil
			}

			f, err := os.Create(listHTML)
			if err != nil {
				return fmt.Errorf("creating %s: %w", listHTML, err)
			}
			defer f.Close()
			if err := consumers.RenderHTML(f, page); err != nil {
				return err
			}
			fmt.Printf("Wrote %d notifications to %s\n", len(page.Items), listHTML)
			return nil
		})
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the unread notification count",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			if _, err := st.FetchUnreadCount(ctx); err != nil {
				return err
			}
			consumers.RenderBell(os.Stdout, consumers.NewBell(st.Snapshot()))
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <id>...",
	Short: "Mark notifications as read",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			for _, id := range args {
				if err := st.MarkAsRead(ctx, id); err != nil {
					return err
				}
			}
			consumers.RenderBell(os.Stdout, consumers.NewBell(st.Snapshot()))
			return nil
		})
	},
}

var readAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			if err := st.MarkAllAsRead(ctx); err != nil {
				return err
			}
			consumers.RenderBell(os.Stdout, consumers.NewBell(st.Snapshot()))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete notifications",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			for _, id := range args {
				if err := st.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listFilter, "filter", string(consumers.FilterAll), "Which notifications to show: all or unread")
	listCmd.Flags().IntVar(&listPages, "pages", 1, "Number of pages to load")
	listCmd.Flags().StringVar(&listHTML, "html", "", "Write the list as an HTML document to this file")
	rootCmd.AddCommand(listCmd, countCmd, readCmd, readAllCmd, deleteCmd)
}
