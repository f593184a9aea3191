package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
)

// Version is set via ldflags at build time.
var Version = "dev"

// API is the part of the notification client the tools call.
type API interface {
	List(ctx context.Context, opts notifyapi.ListOptions) ([]notifications.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Create(ctx context.Context, n notifyapi.NewNotification) (notifications.Notification, error)
}

// Server wraps an MCP server that exposes the notification inbox as tools.
type Server struct {
	api API
	mcp *server.MCPServer
}

// NewServer creates a new MCP server backed by api.
func NewServer(api API) *Server {
	s := &Server{api: api}

	s.mcp = server.NewMCPServer(
		"notifysync",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(listNotificationsTool, s.handleListNotifications)
	s.mcp.AddTool(unreadCountTool, s.handleUnreadCount)
	s.mcp.AddTool(markReadTool, s.handleMarkRead)
	s.mcp.AddTool(markAllReadTool, s.handleMarkAllRead)
	s.mcp.AddTool(deleteNotificationTool, s.handleDeleteNotification)
	s.mcp.AddTool(sendNotificationTool, s.handleSendNotification)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
