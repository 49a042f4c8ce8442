package websocket

import (
	"context"

	"LifeSync/pkg/notification"
)

// FacilityUserPrefix 医院控制台连接时使用 ?user=facility:<id>
const FacilityUserPrefix = "facility:"

// Notifier 把 Hub 适配为应用内通知通道，收件人即连接时的 user
func Notifier(h *Hub) notification.Sender {
	return PrefixedNotifier(h, "")
}

// PrefixedNotifier 收件人加前缀后再查找连接，用于医院控制台
func PrefixedNotifier(h *Hub, prefix string) notification.Sender {
	return notification.SenderFunc(func(ctx context.Context, to string, msg notification.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := h.SendToUser(prefix+to, &Message{Type: MessageTypeSOSEvent, Data: msg})
		return err
	})
}
