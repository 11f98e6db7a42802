package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/soarkit/internal/interaction"
	"github.com/rendis/soarkit/pkg/schema"
)

// InteractionMethod is the notification method carrying interaction requests.
const InteractionMethod = "notifications/soarkit/interaction"

// notificationSender is the part of server.MCPServer the notifier needs.
type notificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier delivers human interaction requests to subscribed sessions.
type MCPNotifier struct {
	mcpServer notificationSender
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes over MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Sender returns an interaction.Sender that notifies responder of message.
// A responder without a live session is a NOT_FOUND error.
func (n *MCPNotifier) Sender(responder, message string) interaction.Sender {
	return func(_ context.Context, messageID string) (map[string]any, error) {
		sessionID, ok := n.sessions.SessionFor(responder)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "responder %q is not subscribed", responder)
		}
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, InteractionMethod, map[string]any{
			"message_id": messageID,
			"responder":  responder,
			"message":    message,
		})
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session expired between lookup and send.
			n.sessions.Remove(sessionID)
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "responder %q is no longer connected", responder)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"responder": responder, "session_id": sessionID}, nil
	}
}
