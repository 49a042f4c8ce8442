package notification

import (
	"context"
	"errors"
	"sync"

	apperr "LifeSync/pkg/errors"
)

// Message 渲染后的通知内容
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender 单一通道的发送接口
type Sender interface {
	Send(ctx context.Context, to string, msg Message) error
}

// SenderFunc 适配普通函数
type SenderFunc func(ctx context.Context, to string, msg Message) error

func (f SenderFunc) Send(ctx context.Context, to string, msg Message) error { return f(ctx, to, msg) }

// ErrNoRoute 收件人类型没有可用通道
var ErrNoRoute = apperr.WithCode(apperr.CodeDeliveryFailure, "no transport for recipient kind")

// Router 按收件人类型选择通道
type Router struct {
	mu     sync.RWMutex
	routes map[string]Sender
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Sender)}
}

// Handle 为 kind 注册通道；多个通道时任一成功即视为送达
func (r *Router) Handle(kind string, senders ...Sender) {
	var live []Sender
	for _, s := range senders {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(live) == 1 {
		r.routes[kind] = live[0]
		return
	}
	r.routes[kind] = AnyOf(live...)
}

func (r *Router) Route(kind string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.routes[kind]
	return s, ok
}

// Send 按 kind 投递
func (r *Router) Send(ctx context.Context, kind, to string, msg Message) error {
	s, ok := r.Route(kind)
	if !ok {
		return ErrNoRoute
	}
	return s.Send(ctx, to, msg)
}

// AnyOf 依次尝试，第一个成功即返回
func AnyOf(senders ...Sender) Sender {
	return SenderFunc(func(ctx context.Context, to string, msg Message) error {
		var errs []error
		for _, s := range senders {
			err := s.Send(ctx, to, msg)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return errors.Join(errs...)
	})
}
