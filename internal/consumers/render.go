package consumers

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// RenderBell writes a one-line unread summary.
func RenderBell(w io.Writer, b Bell) {
	if !b.Visible {
		fmt.Fprintln(w, "No unread notifications")
		return
	}
	fmt.Fprintf(w, "Unread: %s\n", b.Badge)
}

// RenderCenter writes the center dropdown.
func RenderCenter(w io.Writer, c Center) {
	if len(c.Items) == 0 {
		fmt.Fprintln(w, "  (no notifications)")
		return
	}
	for _, n := range c.Items {
		fmt.Fprintln(w, "  "+Line(n))
	}
	if c.HasMore {
		fmt.Fprintln(w, "  ...")
	}
	if c.Stale {
		fmt.Fprintln(w, "  (some changes may not have reached the server yet)")
	}
}

// RenderPage writes the full page as a table.
func RenderPage(w io.Writer, p Page) {
	fmt.Fprintf(w, "Notifications (%s, %d unread)\n", p.Filter, p.Unread)
	fmt.Fprintln(w, strings.Repeat("-", 60))
	if len(p.Items) == 0 {
		fmt.Fprintln(w, "(none)")
	}
	for _, n := range p.Items {
		fmt.Fprintf(w, "%-36s  %s\n", n.ID, Line(n))
		if n.Message != "" {
			fmt.Fprintf(w, "%-36s    %s\n", "", n.Message)
		}
	}
	if p.HasMore {
		fmt.Fprintln(w, "(more available)")
	}
}

// Line formats a notification as a single line.
func Line(n notifications.Notification) string {
	marker := " "
	if !n.Read {
		marker = "*"
	}
	return fmt.Sprintf("%s [%s] %s (%s, %s)", marker, n.Priority, n.Title, n.Type, n.CreatedAt.Local().Format(time.DateTime))
}
