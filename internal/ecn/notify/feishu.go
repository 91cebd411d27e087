package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/shared/feishu"
)

// CardSender 飞书卡片发送
type CardSender interface {
	SendUserCard(ctx context.Context, openID string, card feishu.InteractiveCard) (string, error)
}

// UserFinder 用户查询
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*entity.User, error)
}

// ErrNoOpenID 用户未绑定飞书
var ErrNoOpenID = errors.New("user has no feishu open_id")

// FeishuNotifier 通过飞书卡片通知
type FeishuNotifier struct {
	sender    CardSender
	users     UserFinder
	publicURL string
}

// NewFeishuNotifier 创建飞书通知渠道，publicURL 用于卡片中的跳转按钮
func NewFeishuNotifier(sender CardSender, users UserFinder, publicURL string) *FeishuNotifier {
	return &FeishuNotifier{
		sender:    sender,
		users:     users,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Name 渠道名
func (f *FeishuNotifier) Name() string { return "feishu" }

// Notify 查询接收人 open_id 后发送卡片
func (f *FeishuNotifier) Notify(ctx context.Context, n Notification) error {
	user, err := f.users.FindUser(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("find recipient %s: %w", n.RecipientID, err)
	}
	if user.FeishuOpenID == "" {
		return fmt.Errorf("recipient %s: %w", n.RecipientID, ErrNoOpenID)
	}

	url := ""
	if n.Link != "" && f.publicURL != "" {
		url = f.publicURL + n.Link
	}
	card := feishu.NewECNCard(feishu.ECNCard{
		Title:      n.Title,
		NoticeCode: n.NoticeCode,
		Body:       n.Body,
		Urgent:     n.Priority == event.PriorityHigh,
		URL:        url,
	})
	if _, err := f.sender.SendUserCard(ctx, user.FeishuOpenID, card); err != nil {
		return fmt.Errorf("send feishu card to %s: %w", n.RecipientID, err)
	}
	return nil
}
