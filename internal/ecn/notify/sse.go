package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/sse"
)

// SSEEventType 前端订阅的事件名
const SSEEventType = "ecn_notification"

// SSENotifier 推送到在线用户的浏览器
type SSENotifier struct {
	hub *sse.Hub
}

// NewSSENotifier 创建站内推送渠道
func NewSSENotifier(hub *sse.Hub) *SSENotifier {
	return &SSENotifier{hub: hub}
}

// Name 渠道名
func (s *SSENotifier) Name() string { return "sse" }

// Notify 用户不在线时直接忽略
func (s *SSENotifier) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal sse notification: %w", err)
	}
	s.hub.SendToUser(n.RecipientID, sse.Event{
		EventType: SSEEventType,
		Data:      string(data),
	})
	return nil
}
