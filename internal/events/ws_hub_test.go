package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*WSHub, string) {
	hub := NewWSHub(func(token string) (uint, error) {
		if token == "good" {
			return 42, nil
		}
		return 0, errors.New("bad token")
	})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go hub.Serve(conn)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHubPushesToAuthenticatedUser(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"token": "good"}))

	var auth WSMessage
	require.NoError(t, conn.ReadJSON(&auth))
	assert.Equal(t, "auth", auth.Type)
	assert.Eventually(t, func() bool { return hub.Terminals(42) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), New(PaymentSucceeded, 42, 0, map[string]any{"order_no": "AO1"})))

	var pushed struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, string(PaymentSucceeded), pushed.Type)
	assert.Equal(t, "AO1", pushed.Data.Payload["order_no"])

	// other users and anonymous events are not pushed anywhere
	assert.NoError(t, hub.Publish(context.Background(), New(PaymentSucceeded, 7, 0, nil)))
	assert.NoError(t, hub.Publish(context.Background(), New(SettlementCompleted, 0, 3, nil)))
}

func TestWSHubPingPong(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"token": "good"}))
	var auth WSMessage
	require.NoError(t, conn.ReadJSON(&auth))

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	var pong WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	assert.Eventually(t, func() bool { return hub.Terminals(42) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHubRejectsBadToken(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"token": "forged"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 0, hub.Terminals(42))
}
