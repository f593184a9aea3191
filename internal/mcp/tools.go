package mcp

import "github.com/mark3labs/mcp-go/mcp"

// listNotificationsTool defines the list_notifications MCP tool.
var listNotificationsTool = mcp.NewTool("list_notifications",
	mcp.WithDescription("List the user's notifications, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of notifications to return (default 20)"),
	),
	mcp.WithNumber("skip",
		mcp.Description("Number of notifications to skip for paging"),
	),
	mcp.WithBoolean("unread_only",
		mcp.Description("Only return unread notifications"),
	),
)

// unreadCountTool defines the get_unread_count MCP tool.
var unreadCountTool = mcp.NewTool("get_unread_count",
	mcp.WithDescription("Get the number of unread notifications."),
)

// markReadTool defines the mark_read MCP tool.
var markReadTool = mcp.NewTool("mark_read",
	mcp.WithDescription("Mark a single notification as read."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Notification ID"),
	),
)

// markAllReadTool defines the mark_all_read MCP tool.
var markAllReadTool = mcp.NewTool("mark_all_read",
	mcp.WithDescription("Mark every notification as read."),
)

// deleteNotificationTool defines the delete_notification MCP tool.
var deleteNotificationTool = mcp.NewTool("delete_notification",
	mcp.WithDescription("Delete a notification."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Notification ID"),
	),
)

// sendNotificationTool defines the send_notification MCP tool.
var sendNotificationTool = mcp.NewTool("send_notification",
	mcp.WithDescription("Create a notification for the current user. The backend delivers it over the realtime channel and push."),
	mcp.WithString("title",
		mcp.Required(),
		mcp.Description("Notification title"),
	),
	mcp.WithString("message",
		mcp.Description("Notification body"),
	),
	mcp.WithString("type",
		mcp.Description("Notification type (default other)"),
	),
	mcp.WithString("priority",
		mcp.Description("Notification priority"),
		mcp.Enum("low", "medium", "high", "critical"),
	),
	mcp.WithString("action_url",
		mcp.Description("URL to open when the notification is clicked"),
	),
)
