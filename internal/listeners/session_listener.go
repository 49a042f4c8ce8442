package listeners

import (
	"sync"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/models"
	"LifeSync/internal/session"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/sse"
	"LifeSync/pkg/websocket"

	"go.uber.org/zap"
)

// OpsGroup 调度中心大屏订阅的 SSE 组，接收全部会话事件
const OpsGroup = "ops"

// SessionGroup 订阅单个会话的 websocket 组名
func SessionGroup(sessionID string) string { return "session:" + sessionID }

// EventSink 会话事件的投递方，fanout.Fanout 即满足
type EventSink interface {
	OnEvent(ev models.SessionEvent)
}

// SessionListener 把会话事件转发给通知扇出和实时订阅者
type SessionListener struct {
	sink EventSink
	ws   *websocket.Hub
	sse  *sse.Hub

	events chan models.SessionEvent
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewSessionListener(sink EventSink, ws *websocket.Hub, sseHub *sse.Hub, buffer int) *SessionListener {
	if buffer <= 0 {
		buffer = 256
	}
	return &SessionListener{
		sink:   sink,
		ws:     ws,
		sse:    sseHub,
		events: make(chan models.SessionEvent, buffer),
		done:   make(chan struct{}),
	}
}

// InitSessionListeners 注册到会话管理器并启动广播协程
func InitSessionListeners(m *session.Manager, l *SessionListener) {
	l.Start()
	m.Subscribe(l.OnEvent)
}

func (l *SessionListener) Start() {
	l.wg.Add(1)
	go l.loop()
}

// OnEvent 在会话锁内调用，广播走独立协程，队列满时丢弃
func (l *SessionListener) OnEvent(ev models.SessionEvent) {
	if l.sink != nil {
		l.sink.OnEvent(ev)
	}
	select {
	case l.events <- ev:
	case <-l.done:
	default:
		logger.Warn("session broadcast queue full, dropping event",
			zap.String("session", ev.SessionID), zap.String("kind", string(ev.Kind)))
	}
}

func (l *SessionListener) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case ev := <-l.events:
			l.broadcast(ev)
		}
	}
}

func (l *SessionListener) broadcast(ev models.SessionEvent) {
	if l.ws != nil {
		l.ws.SendToGroup(SessionGroup(ev.SessionID), &websocket.Message{Type: websocket.MessageTypeSOSEvent, Data: ev})
	}
	if l.sse != nil {
		l.sse.Publish(OpsGroup, sse.EventSession, ev)
	}
}

func (l *SessionListener) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

// ReservationPublisher 把预约请求推送到医院控制台的 SSE 组
func ReservationPublisher(h *sse.Hub) func(dispatch.ReservationRequest) {
	return func(req dispatch.ReservationRequest) {
		if h.Publish(req.FacilityID, sse.EventReservation, req) == 0 {
			logger.Debug("no console online for reservation, waiting for timeout",
				zap.String("facility", req.FacilityID), zap.String("session", req.SessionID))
		}
	}
}
