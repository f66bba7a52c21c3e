package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(h *Hub, id, userID, sessionID string) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		Hub:       h,
		Send:      make(chan []byte, 16),
		SessionID: sessionID,
	}
}

func readMessage(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("未收到消息")
		return nil
	}
}

func TestHubRegisterSendsConnected(t *testing.T) {
	h := NewHub(zap.NewNop())
	client := newTestClient(h, "c1", "user-1", "")

	h.registerClient(client)
	assert.Equal(t, 1, h.GetOnlineCount())
	assert.Equal(t, []string{"user-1"}, h.GetOnlineUsers())

	msg := readMessage(t, client)
	assert.Equal(t, MessageTypeConnected, msg.Type)
}

func TestHubSendToSession(t *testing.T) {
	h := NewHub(zap.NewNop())
	c1 := newTestClient(h, "c1", "user-1", "session-1")
	c2 := newTestClient(h, "c2", "user-2", "session-2")
	h.registerClient(c1)
	h.registerClient(c2)
	readMessage(t, c1) // connected
	readMessage(t, c2)

	err := h.SendToSession("session-1", &Message{Type: MessageTypeGameEvent, SessionID: "session-1"})
	require.NoError(t, err)

	msg := readMessage(t, c1)
	assert.Equal(t, MessageTypeGameEvent, msg.Type)
	assert.Empty(t, c2.Send)

	// 无人订阅的会话
	err = h.SendToSession("session-404", &Message{Type: MessageTypeGameEvent})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHubSendToUserAndClient(t *testing.T) {
	h := NewHub(zap.NewNop())
	c1 := newTestClient(h, "c1", "user-1", "")
	h.registerClient(c1)
	readMessage(t, c1)

	require.NoError(t, h.SendToUser("user-1", &Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePing, readMessage(t, c1).Type)

	require.NoError(t, h.SendToClient("c1", &Message{Type: MessageTypePong}))
	assert.Equal(t, MessageTypePong, readMessage(t, c1).Type)

	assert.ErrorIs(t, h.SendToUser("user-404", &Message{}), ErrUserNotConnected)
	assert.ErrorIs(t, h.SendToClient("c404", &Message{}), ErrClientNotFound)
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(zap.NewNop())
	client := newTestClient(h, "c1", "user-1", "")
	h.registerClient(client)
	readMessage(t, client)

	h.unregisterClient(client)
	assert.Equal(t, 0, h.GetOnlineCount())
	assert.Empty(t, h.GetOnlineUsers())

	// 通道已关闭
	_, open := <-client.Send
	assert.False(t, open)
}
