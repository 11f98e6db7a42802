package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/pkg/schema"
)

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type fakeNotificationSender struct {
	sent []sentNotification
	err  error
}

func (f *fakeNotificationSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{sessionID, method, params})
	return nil
}

func TestNotifierSender(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("soc-oncall", "session-1")
	fake := &fakeNotificationSender{}
	n := &MCPNotifier{mcpServer: fake, sessions: sessions}

	out, err := n.Sender("soc-oncall", "Was this you?")(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "session-1", out["session_id"])

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "session-1", fake.sent[0].sessionID)
	assert.Equal(t, InteractionMethod, fake.sent[0].method)
	assert.Equal(t, map[string]any{
		"message_id": "abc123",
		"responder":  "soc-oncall",
		"message":    "Was this you?",
	}, fake.sent[0].params)
}

func TestNotifierSender_NotSubscribed(t *testing.T) {
	n := &MCPNotifier{mcpServer: &fakeNotificationSender{}, sessions: NewSessionRegistry()}

	_, err := n.Sender("nobody", "hi")(context.Background(), "abc123")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestNotifierSender_SessionGone(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("soc-oncall", "session-1")
	n := &MCPNotifier{mcpServer: &fakeNotificationSender{err: server.ErrSessionNotFound}, sessions: sessions}

	_, err := n.Sender("soc-oncall", "hi")(context.Background(), "abc123")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, ok := sessions.SessionFor("soc-oncall")
	assert.False(t, ok)
}

func TestNotifierSender_SendError(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("soc-oncall", "session-1")
	n := &MCPNotifier{mcpServer: &fakeNotificationSender{err: errors.New("channel full")}, sessions: sessions}

	_, err := n.Sender("soc-oncall", "hi")(context.Background(), "abc123")
	assert.EqualError(t, err, "channel full")
}
