// Package notify ECN通知投递：飞书卡片、站内SSE推送、Kafka事件流
package notify

import (
	"context"
	"errors"
)

// Notification 发给单个用户的一条通知
type Notification struct {
	RecipientID string `json:"recipient_id"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Priority    string `json:"priority"`
	Link        string `json:"link,omitempty"`
	NoticeID    string `json:"notice_id"`
	NoticeCode  string `json:"notice_code"`
}

// Notifier 通知渠道
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Multi 依次投递到所有渠道，单个渠道失败不影响其它渠道
type Multi []Notifier

// Name 渠道名
func (m Multi) Name() string { return "multi" }

// Notify 投递到全部渠道，返回合并后的错误
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
