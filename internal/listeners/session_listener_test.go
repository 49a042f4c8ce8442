package listeners

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/models"
	"LifeSync/pkg/sse"
	"LifeSync/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (s *sinkRecorder) OnEvent(ev models.SessionEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestListenerForwardsToSinkAndSessionGroup(t *testing.T) {
	hub := websocket.NewHub(nil)
	defer hub.Close()
	conn := &websocket.Connection{ID: "w1", UserID: "dispatcher", Send: make(chan []byte, 4), Hub: hub, LastPing: time.Now(), Groups: map[string]bool{}}
	hub.Register(conn)
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	conn.JoinGroup(SessionGroup("s-1"))

	sink := &sinkRecorder{}
	l := NewSessionListener(sink, hub, nil, 0)
	l.Start()
	defer l.Close()

	l.OnEvent(models.SessionEvent{Kind: models.EventState, SessionID: "s-1", State: models.StateAssigned, FacilityID: "f-1"})
	l.OnEvent(models.SessionEvent{Kind: models.EventState, SessionID: "s-2", State: models.StateMatching})

	assert.Equal(t, 2, sink.len())
	require.Eventually(t, func() bool { return len(conn.Send) == 1 }, time.Second, 5*time.Millisecond)

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(<-conn.Send, &msg))
	assert.Equal(t, websocket.MessageTypeSOSEvent, msg.Type)
	assert.Equal(t, "session:s-1", msg.Group)
	data, _ := json.Marshal(msg.Data)
	assert.Contains(t, string(data), `"state":"assigned"`)
}

func TestListenerDropsWhenQueueFull(t *testing.T) {
	sink := &sinkRecorder{}
	l := NewSessionListener(sink, nil, nil, 1)
	// 未启动广播协程，第二个事件只会交给 sink
	l.OnEvent(models.SessionEvent{SessionID: "a"})
	l.OnEvent(models.SessionEvent{SessionID: "b"})
	assert.Equal(t, 2, sink.len())
	assert.Len(t, l.events, 1)
	l.Start()
	l.Close()
}

func streamLines(t *testing.T, h *sse.Hub, group string) (*bufio.Scanner, func()) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events/:group", func(c *gin.Context) { h.Serve(c, c.Param("group")) })
	srv := httptest.NewServer(r)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/"+group, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Listeners(group) == 1 }, 2*time.Second, 5*time.Millisecond)

	return bufio.NewScanner(resp.Body), func() {
		cancel()
		resp.Body.Close()
		srv.Close()
	}
}

func readEvent(sc *bufio.Scanner) (event, data string) {
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: {"):
			return event, strings.TrimPrefix(line, "data: ")
		}
	}
	return event, ""
}

func TestListenerPublishesToOpsFeed(t *testing.T) {
	h := sse.NewHub(time.Minute)
	defer h.Close()
	sc, stop := streamLines(t, h, OpsGroup)
	defer stop()

	l := NewSessionListener(nil, nil, h, 0)
	l.Start()
	defer l.Close()
	l.OnEvent(models.SessionEvent{Kind: models.EventState, SessionID: "s-9", State: models.StateEnRoute})

	event, data := readEvent(sc)
	assert.Equal(t, sse.EventSession, event)
	assert.Contains(t, data, `"sessionId":"s-9"`)
	assert.Contains(t, data, `"state":"en_route"`)
}

func TestReservationPublisher(t *testing.T) {
	h := sse.NewHub(time.Minute)
	defer h.Close()

	// 无人在线时只记录日志
	ReservationPublisher(h)(dispatch.ReservationRequest{FacilityID: "f-1", SessionID: "s-0"})

	sc, stop := streamLines(t, h, "f-1")
	defer stop()
	ReservationPublisher(h)(dispatch.ReservationRequest{FacilityID: "f-1", SessionID: "s-1", IssuedAt: time.Now()})

	event, data := readEvent(sc)
	assert.Equal(t, sse.EventReservation, event)
	assert.Contains(t, data, `"sessionId":"s-1"`)
}
