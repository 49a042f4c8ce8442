package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 在生产环境中应该检查Origin
			return true
		},
	}
}

// HandleWebSocket 升级连接并启动读写协程
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	if limit := hub.config.MaxConnections; limit > 0 && hub.GetConnectionCount() >= limit {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}

	c := newConnection(hub, conn, userID)
	hub.Register(c)

	go c.writePump()
	go c.readPump()
}

func newConnection(hub *Hub, conn *websocket.Conn, userID string) *Connection {
	return &Connection{
		ID:       "conn_" + uuid.NewString(),
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
		Groups:   make(map[string]bool),
	}
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	timeout := c.Hub.config.ConnectionTimeout
	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	c.Conn.SetReadDeadline(time.Now().Add(timeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(timeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(timeout))
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每条事件单独一帧，客户端按 JSON 解析
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端上行消息，只支持心跳和订阅
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Errorf("消息解析失败: %v", err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.touch()
		c.reply(Message{Type: MessageTypePong})
	case MessageTypeJoinGroup:
		if group, ok := msg.Data.(string); ok && group != "" {
			c.JoinGroup(group)
			c.reply(Message{Type: MessageTypeGroupJoined, Data: group})
		}
	case MessageTypeLeaveGroup:
		if group, ok := msg.Data.(string); ok && group != "" {
			c.LeaveGroup(group)
			c.reply(Message{Type: MessageTypeGroupLeft, Data: group})
		}
	default:
		logrus.Warnf("未知的消息类型: %s", msg.Type)
		c.reply(Message{Type: MessageTypeError, Data: "unsupported message type"})
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

func (c *Connection) reply(msg Message) {
	data, err := encode(&msg)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		logrus.Warnf("连接 %s 发送缓冲区已满", c.ID)
	}
}

// JoinGroup 加入组
func (c *Connection) JoinGroup(group string) {
	c.mu.Lock()
	c.Groups[group] = true
	c.mu.Unlock()
	c.Hub.joinGroup(c, group)
}

// LeaveGroup 离开组
func (c *Connection) LeaveGroup(group string) {
	c.mu.Lock()
	delete(c.Groups, group)
	c.mu.Unlock()
	c.Hub.leaveGroup(c, group)
}

// IsInGroup 检查是否在组中
func (c *Connection) IsInGroup(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Groups[group]
}

func (c *Connection) groups() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.Groups))
	for g := range c.Groups {
		out[g] = true
	}
	return out
}
