package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes approval requests to the owner's MCP session.
// It satisfies approval.Notifier.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewNotifier creates a notifier bound to the server's sessions.
func NewNotifier(s *Server) *Notifier {
	return &Notifier{mcpServer: s.mcpServer, sessions: s.sessions}
}

// Notify sends payload to the user's session. A user with no session is
// skipped.
func (n *Notifier) Notify(_ context.Context, userID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(userID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
