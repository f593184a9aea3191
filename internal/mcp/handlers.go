package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
)

const defaultListLimit = 20

// handleListNotifications returns a page of notifications as text.
func (s *Server) handleListNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	skip := request.GetInt("skip", 0)
	if skip < 0 {
		return mcp.NewToolResultError("skip must be non-negative"), nil
	}

	list, err := s.api.List(ctx, notifyapi.ListOptions{
		Limit:      limit,
		Skip:       skip,
		UnreadOnly: request.GetBool("unread_only", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing notifications failed: %v", err)), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No notifications."), nil
	}
	return mcp.NewToolResultText(formatNotifications(list)), nil
}

// handleUnreadCount returns the server's unread count.
func (s *Server) handleUnreadCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetching unread count failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d unread", count)), nil
}

func (s *Server) handleMarkRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if err := s.api.MarkRead(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marking %s read failed: %v", id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Marked %s as read.", id)), nil
}

func (s *Server) handleMarkAllRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.api.MarkAllRead(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marking all read failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Marked all notifications as read."), nil
}

func (s *Server) handleDeleteNotification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if err := s.api.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deleting %s failed: %v", id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s.", id)), nil
}

// handleSendNotification creates a notification through the backend.
func (s *Server) handleSendNotification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	priority := notifications.Priority(request.GetString("priority", string(notifications.PriorityLow)))
	if !priority.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", priority)), nil
	}

	created, err := s.api.Create(ctx, notifyapi.NewNotification{
		Type:      notifications.NotificationType(request.GetString("type", string(notifications.TypeOther))),
		Priority:  priority,
		Title:     title,
		Message:   request.GetString("message", ""),
		ActionURL: request.GetString("action_url", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sending notification failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sent notification %s.", created.ID)), nil
}

// formatNotifications renders one notification per line, unread marked with *.
func formatNotifications(list []notifications.Notification) string {
	var b strings.Builder
	for _, n := range list {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s [%s/%s] %s", marker, n.ID, n.Priority, n.Type, n.Title)
		if n.Message != "" {
			fmt.Fprintf(&b, ": %s", n.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}
