package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/notification"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 控制台事件名
const (
	EventReservation = "reservation"
	EventSession     = "session"
	EventPing        = "ping"
)

// ErrNoListener 组内没有在线的控制台
var ErrNoListener = apperr.WithCode(apperr.CodeUnavailable, "sse: no console listening")

type Client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]bool // group -> clientID set
	interval time.Duration
	retryMs  int
	seq      uint64
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{clients: make(map[string]*Client), groups: make(map[string]map[string]bool), interval: interval, retryMs: 5000}
}

func (h *Hub) AddClient(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{id: id, groups: make(map[string]bool), ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	return c
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		close(c.done)
		for g := range c.groups {
			delete(h.groups[g], id)
			if len(h.groups[g]) == 0 {
				delete(h.groups, g)
			}
		}
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

func (h *Hub) Join(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.groups[group] = true
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][id] = true
}

func (h *Hub) Leave(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(c.groups, group)
	if h.groups[group] != nil {
		delete(h.groups[group], id)
	}
}

// Listeners 组内在线客户端数
func (h *Hub) Listeners(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Publish 向组内推送一条命名事件，返回入队的客户端数
func (h *Hub) Publish(group, event string, v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	msg := h.format(event, string(b))

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id := range h.groups[group] {
		if c := h.clients[id]; c != nil {
			select {
			case c.ch <- msg:
				n++
			default:
			}
		}
	}
	return n
}

func (h *Hub) format(event, data string) string {
	id := atomic.AddUint64(&h.seq, 1)
	var sb strings.Builder
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	fmt.Fprintf(&sb, "id: %d\ndata: %s\n\n", id, data)
	return sb.String()
}

// Notifier 把控制台订阅适配为通知通道，收件人即机构ID
func Notifier(h *Hub) notification.Sender {
	return notification.SenderFunc(func(ctx context.Context, to string, msg notification.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.Publish(to, EventSession, msg) == 0 {
			return ErrNoListener
		}
		return nil
	})
}

// Serve 保持事件流，客户端加入 groups 指定的组
func (h *Hub) Serve(c *gin.Context, groups ...string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	clientID := uuid.NewString()
	client := h.AddClient(clientID)
	defer h.RemoveClient(clientID)
	for _, g := range groups {
		h.Join(clientID, g)
	}

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", EventPing)
			flusher.Flush()
		case msg := <-client.ch:
			_, _ = c.Writer.Write([]byte(msg))
			flusher.Flush()
		}
	}
}

// Close 断开全部客户端
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.RemoveClient(id)
	}
}
