package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LifeSync/pkg/notification"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToGroup(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.AddClient("a")
	h.AddClient("b")
	h.Join("a", "hyd-city-general")

	assert.Equal(t, 1, h.Publish("hyd-city-general", EventReservation, map[string]string{"sessionId": "s1"}))
	msg := <-a.ch
	assert.True(t, strings.HasPrefix(msg, "event: reservation\nid: 1\n"))
	assert.Contains(t, msg, `data: {"sessionId":"s1"}`)

	assert.Equal(t, 0, h.Publish("other", EventSession, "x"))

	h.RemoveClient("a")
	assert.Equal(t, 0, h.Listeners("hyd-city-general"))
}

func TestNotifierRequiresListener(t *testing.T) {
	h := NewHub(time.Minute)
	send := Notifier(h)
	err := send.Send(context.Background(), "f1", notification.Message{Body: "x"})
	assert.ErrorIs(t, err, ErrNoListener)

	h.AddClient("c")
	h.Join("c", "f1")
	assert.NoError(t, send.Send(context.Background(), "f1", notification.Message{Body: "x"}))
}

func TestServeStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(time.Minute)
	r := gin.New()
	r.GET("/events/:facilityId", func(c *gin.Context) { h.Serve(c, c.Param("facilityId")) })
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/f1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.Listeners("f1") == 1 }, 2*time.Second, 5*time.Millisecond)
	h.Publish("f1", EventSession, map[string]string{"state": "assigned"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if strings.HasPrefix(sc.Text(), "data: {") {
			break
		}
	}
	assert.Contains(t, lines, "event: session")
	assert.Contains(t, lines, `data: {"state":"assigned"}`)
}
