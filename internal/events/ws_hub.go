package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"` // auth/pong/<event type>
	Data interface{} `json:"data"`
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (uint, error)

// WSHub keeps the open websocket terminals of each user and pushes events
// addressed to that user. A user may hold several terminals.
type WSHub struct {
	// 一个连接对应一个用户终端
	connections map[TerminalKey]*terminal
	userIndex   map[uint][]TerminalKey
	validate    TokenValidator
	sync.RWMutex
}

func NewWSHub(validate TokenValidator) *WSHub {
	return &WSHub{
		connections: make(map[TerminalKey]*terminal),
		userIndex:   make(map[uint][]TerminalKey),
		validate:    validate,
	}
}

type TerminalKey struct {
	UserID uint   `json:"user_id"`
	Random string `json:"random"` //随机短串
}

func (t TerminalKey) String() string {
	return fmt.Sprintf("%d:%s", t.UserID, t.Random)
}

// terminal serializes writes; gorilla connections allow one concurrent writer.
type terminal struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *terminal) writeJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeWsJson(t.conn, v)
}

func (t *terminal) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(100*time.Millisecond))
}

func generateTerminalKey(userID uint) TerminalKey {
	return TerminalKey{userID, uuid.New().String()[:8]}
}

func (m *WSHub) register(key TerminalKey, conn *websocket.Conn) *terminal {
	m.Lock()
	defer m.Unlock()
	if old, exists := m.connections[key]; exists {
		old.conn.Close()
	} else {
		m.userIndex[key.UserID] = append(m.userIndex[key.UserID], key)
	}
	t := &terminal{conn: conn}
	m.connections[key] = t
	return t
}

func (m *WSHub) connectionsOf(userID uint) []*terminal {
	m.RLock()
	defer m.RUnlock()
	var conns []*terminal
	for _, key := range m.userIndex[userID] {
		if conn, ok := m.connections[key]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Remove drops the terminal from both indexes.
func (m *WSHub) Remove(key TerminalKey) {
	m.Lock()
	defer m.Unlock()
	m.removeLocked(key)
}

func (m *WSHub) removeLocked(key TerminalKey) {
	delete(m.connections, key)
	keys := m.userIndex[key.UserID]
	kept := keys[:0]
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		delete(m.userIndex, key.UserID)
	} else {
		m.userIndex[key.UserID] = kept
	}
}

// Terminals returns the number of open terminals of the user.
func (m *WSHub) Terminals(userID uint) int {
	m.RLock()
	defer m.RUnlock()
	return len(m.userIndex[userID])
}

// Serve authenticates the first frame, registers the terminal and runs its
// read loop until the peer goes away.
func (m *WSHub) Serve(conn *websocket.Conn) {
	defer func() {
		if err := recover(); err != nil {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Server Error"),
				time.Now().Add(5*time.Second),
			)
			conn.Close()
		}
	}()

	// 首帧鉴权超时（5秒）
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var auth struct {
		Token string       `json:"token"`
		WsKey *TerminalKey `json:"ws_key"` //断线重连时沿用原来的key
	}
	if json.Unmarshal(msg, &auth) != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "Invalid auth msg")
		return
	}
	userID, err := m.validate(auth.Token)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "Invalid Token")
		return
	}

	key := generateTerminalKey(userID)
	if auth.WsKey != nil && auth.WsKey.UserID == userID {
		key = *auth.WsKey
	}
	t := m.register(key, conn)
	if err := t.writeJSON(WSMessage{Type: "auth", Data: map[string]interface{}{"terminal_key": key}}); err != nil {
		slog.Error("push auth msg failed", "terminal", key.String(), "error", err)
	}

	m.readLoop(key, t)
}

func (m *WSHub) readLoop(key TerminalKey, t *terminal) {
	conn := t.conn
	defer func() {
		m.Lock()
		// a reconnect under the same key may have replaced this terminal
		if m.connections[key] == t {
			m.removeLocked(key)
		}
		m.Unlock()
		conn.Close()
	}()
	conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("终端异常断开", "terminal", key.String(), "error", err)
			}
			return
		}
		var in WSMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			slog.Debug("解析终端消息失败", "terminal", key.String(), "error", err)
			continue
		}
		if in.Type == "ping" {
			if err := t.writeJSON(WSMessage{Type: "pong"}); err != nil {
				slog.Error("回送 pong 失败", "terminal", key.String(), "error", err)
			}
		}
	}
}

// Publish pushes the event to every terminal of ev.UserID. Events without a
// user are not pushed.
func (m *WSHub) Publish(ctx context.Context, ev Event) error {
	if ev.UserID == 0 {
		return nil
	}
	var errs []error
	for _, t := range m.connectionsOf(ev.UserID) {
		if err := t.writeJSON(WSMessage{Type: string(ev.Type), Data: ev}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("push %s to user %d: %w", ev.Type, ev.UserID, errors.Join(errs...))
	}
	return nil
}

// StartCleanup pings every terminal periodically and drops dead ones until
// ctx is done.
func (m *WSHub) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.cleanupDeadConnections()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *WSHub) cleanupDeadConnections() {
	m.Lock()
	defer m.Unlock()
	for key, t := range m.connections {
		if err := t.ping(); err != nil {
			m.removeLocked(key)
			t.conn.Close()
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	conn.Close()
}

func writeWsJson(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}
