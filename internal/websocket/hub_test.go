package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clicker-leaderboard/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPresence struct {
	mu    sync.Mutex
	names []string
}

func (p *countingPresence) Ping(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, username)
	return len(p.names)
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, *countingPresence, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	presence := &countingPresence{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, presence, logger, w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, presence, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.GetTotalConnections()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.GetTotalConnections() == before+1
	}, time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	hub, _, url := startHub(t)
	first := dial(t, hub, url)
	second := dial(t, hub, url)

	hub.BroadcastOnline(3)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeOnline, msg.Type)
		assert.JSONEq(t, `{"online":3}`, string(msg.Data))
	}

	hub.BroadcastPlayerUpdate(domain.PlayerRecord{Username: "alice", BestScore: 900})

	msg := readMessage(t, first)
	assert.Equal(t, MessageTypePlayerUpdate, msg.Type)
	var rec domain.PlayerRecord
	require.NoError(t, json.Unmarshal(msg.Data, &rec))
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, int64(900), rec.BestScore)
}

func TestClient_PresenceAndPing(t *testing.T) {
	hub, presence, url := startHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePresence, Username: "bob"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeOnline, msg.Type)
	assert.JSONEq(t, `{"online":1}`, string(msg.Data))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []string{"bob"}, presence.names)
}

func TestHub_Unregister(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return hub.GetTotalConnections() == 0
	}, time.Second, 10*time.Millisecond)
}
