package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LifeSync/pkg/notification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	RegisterRoutes(r, NewHandler(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := &Connection{ID: "c1", UserID: "citizen-1", Send: make(chan []byte, 4), Hub: hub, LastPing: time.Now(), Groups: map[string]bool{}}
	hub.Register(conn)
	assert.Eventually(t, func() bool { return hub.GetUserConnections("citizen-1") == 1 }, time.Second, 5*time.Millisecond)

	n, err := hub.SendToUser("citizen-1", &Message{Type: MessageTypeSOSEvent, Data: "assigned"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, conn.Send, 1)

	hub.Unregister(conn)
	assert.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	_, err = hub.SendToUser("citizen-1", &Message{Type: MessageTypeSOSEvent})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDropOnFull(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := &Connection{ID: "c1", UserID: "u", Send: make(chan []byte, 1), Hub: hub, LastPing: time.Now(), Groups: map[string]bool{}}
	hub.registerConnection(conn)

	_, err := hub.SendToUser("u", &Message{Type: MessageTypeSOSEvent})
	require.NoError(t, err)
	_, err = hub.SendToUser("u", &Message{Type: MessageTypeSOSEvent})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEndToEndDelivery(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "citizen-1")
	require.Eventually(t, func() bool { return hub.GetUserConnections("citizen-1") == 1 }, time.Second, 5*time.Millisecond)

	send := Notifier(hub)
	require.NoError(t, send.Send(context.Background(), "citizen-1", notification.Message{Title: "SOS", Body: "help is on the way"}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeSOSEvent, msg.Type)
	assert.Equal(t, "citizen-1", msg.To)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "help is on the way", data["body"])

	assert.Error(t, send.Send(context.Background(), "nobody", notification.Message{}))
}

func TestPrefixedNotifierTargetsFacilityConsole(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	conn := &Connection{ID: "f1", UserID: FacilityUserPrefix + "city-general", Send: make(chan []byte, 2), Hub: hub, LastPing: time.Now(), Groups: map[string]bool{}}
	hub.registerConnection(conn)

	send := PrefixedNotifier(hub, FacilityUserPrefix)
	require.NoError(t, send.Send(context.Background(), "city-general", notification.Message{Body: "incoming"}))
	assert.Len(t, conn.Send, 1)
	assert.ErrorIs(t, Notifier(hub).Send(context.Background(), "city-general", notification.Message{}), ErrNotConnected)
}

func TestJoinGroupAndPing(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "facility:hyd-city-general")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoinGroup, Data: "session:s1"}))
	assert.Equal(t, MessageTypeGroupJoined, readMessage(t, conn).Type)
	assert.Equal(t, 1, hub.GetGroupConnections("session:s1"))

	assert.Equal(t, 1, hub.SendToGroup("session:s1", &Message{Type: MessageTypeSOSEvent, Data: "en_route"}))
	assert.Equal(t, "session:s1", readMessage(t, conn).Group)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHandlerRequiresUser(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
