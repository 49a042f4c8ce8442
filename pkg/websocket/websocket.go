package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	apperr "LifeSync/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket消息类型
const (
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeJoinGroup   = "join_group"
	MessageTypeLeaveGroup  = "leave_group"
	MessageTypeGroupJoined = "group_joined"
	MessageTypeGroupLeft   = "group_left"
	MessageTypeSOSEvent    = "sos_event"
	MessageTypeError       = "error"
)

// ErrNotConnected 目标用户当前没有在线连接
var ErrNotConnected = apperr.WithCode(apperr.CodeUnavailable, "websocket: user not connected")

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	To        string      `json:"to,omitempty"`
	Group     string      `json:"group,omitempty"`
}

// Connection 表示一个WebSocket连接
type Connection struct {
	ID       string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	mu       sync.RWMutex
	Groups   map[string]bool
}

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间
	ConnectionTimeout time.Duration
	// 消息缓冲区大小
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	// 最大消息大小
	MaxMessageSize int
	// 发送缓冲区满时是否直接丢弃
	DropOnFull bool
	// 非丢弃模式下的等待时长
	SendTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MessageBufferSize: 256,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512,
		DropOnFull:        true,
		SendTimeout:       50 * time.Millisecond,
	}
}

// Hub 管理所有WebSocket连接
type Hub struct {
	// 注册的连接
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 组到连接ID的映射
	groupConnections map[string]map[string]bool
	register         chan *Connection
	unregister       chan *Connection
	connectionCount  int64
	config           *Config
	mu               sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		register:         make(chan *Connection, 64),
		unregister:       make(chan *Connection, 64),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
	}
	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	interval := h.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ID] = conn
	if h.userConnections[conn.UserID] == nil {
		h.userConnections[conn.UserID] = make(map[string]bool)
	}
	h.userConnections[conn.UserID][conn.ID] = true
	atomic.AddInt64(&h.connectionCount, 1)

	logrus.Infof("用户 %s 建立连接 %s", conn.UserID, conn.ID)
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if ids := h.userConnections[conn.UserID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}
	for group := range conn.groups() {
		if ids := h.groupConnections[group]; ids != nil {
			delete(ids, conn.ID)
			if len(ids) == 0 {
				delete(h.groupConnections, group)
			}
		}
	}
	if conn.Send != nil {
		close(conn.Send)
	}
	atomic.AddInt64(&h.connectionCount, -1)

	logrus.Infof("用户 %s 断开连接 %s", conn.UserID, conn.ID)
}

// Register / Unregister Hub关闭后直接同步处理
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.ctx.Done():
		h.registerConnection(conn)
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
		h.unregisterConnection(conn)
	}
}

// joinGroup / leaveGroup 由连接的读协程调用
func (h *Hub) joinGroup(conn *Connection, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groupConnections[group] == nil {
		h.groupConnections[group] = make(map[string]bool)
	}
	h.groupConnections[group][conn.ID] = true
}

func (h *Hub) leaveGroup(conn *Connection, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ids := h.groupConnections[group]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.groupConnections, group)
		}
	}
}

// SendToUser 推送给用户的全部在线连接，返回成功入队的连接数
func (h *Hub) SendToUser(userID string, msg *Message) (int, error) {
	msg.To = userID
	data, err := encode(msg)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.fanout(h.userConnections[userID], data)
	if n == 0 {
		return 0, ErrNotConnected
	}
	return n, nil
}

// SendToGroup 推送给组内全部连接
func (h *Hub) SendToGroup(group string, msg *Message) int {
	msg.Group = group
	data, err := encode(msg)
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fanout(h.groupConnections[group], data)
}

// fanout 调用方需持有读锁
func (h *Hub) fanout(ids map[string]bool, data []byte) int {
	n := 0
	for id := range ids {
		if conn, ok := h.connections[id]; ok && h.trySend(conn, data) {
			n++
		}
	}
	return n
}

func encode(msg *Message) ([]byte, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(msg)
}

// trySend 背压策略：丢弃或限时等待
func (h *Hub) trySend(conn *Connection, data []byte) bool {
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
			return true
		default:
			logrus.Warnf("连接 %s 发送缓冲区已满，丢弃消息", conn.ID)
			return false
		}
	}
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	select {
	case conn.Send <- data:
		return true
	case <-time.After(timeout):
		logrus.Warnf("连接 %s 发送超时，丢弃消息", conn.ID)
		return false
	}
}

// checkHeartbeats 关闭超时未响应的连接
func (h *Hub) checkHeartbeats() {
	timeout := h.config.ConnectionTimeout
	if timeout <= 0 {
		return
	}
	now := time.Now()
	h.mu.RLock()
	var stale []*Connection
	for _, conn := range h.connections {
		conn.mu.RLock()
		last := conn.LastPing
		conn.mu.RUnlock()
		if now.Sub(last) > timeout {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range stale {
		logrus.Warnf("连接 %s 心跳超时", conn.ID)
		if conn.Conn != nil {
			_ = conn.Conn.Close()
		} else {
			h.unregisterConnection(conn)
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	}
}
