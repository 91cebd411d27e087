package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ReceiveOpenID 按 open_id 发送给个人
const ReceiveOpenID = "open_id"

type messageRequest struct {
	ReceiveID string `json:"receive_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

type messageResponse struct {
	BaseResponse
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// SendUserCard 向个人发送消息卡片，返回 message_id
func (c *Client) SendUserCard(ctx context.Context, openID string, card InteractiveCard) (string, error) {
	content, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("序列化卡片内容失败: %w", err)
	}

	var resp messageResponse
	query := url.Values{"receive_id_type": {ReceiveOpenID}}
	req := messageRequest{ReceiveID: openID, MsgType: "interactive", Content: string(content)}
	if err := c.post(ctx, pathMessages, query, req, &resp); err != nil {
		return "", fmt.Errorf("发送消息卡片失败: %w", err)
	}
	return resp.Data.MessageID, nil
}

// ECNCard 变更通知卡片内容
type ECNCard struct {
	Title      string
	NoticeCode string
	Body       string
	Urgent     bool
	URL        string
}

// NewECNCard 创建ECN流程通知卡片
func NewECNCard(in ECNCard) InteractiveCard {
	template := "blue"
	title := "🔧 " + in.Title
	if in.Urgent {
		template = "red"
		title = "⚠️ " + in.Title
	}

	elements := []CardElement{
		{
			Tag: "div",
			Fields: []CardField{
				{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**ECN编号**\n%s", in.NoticeCode)}},
			},
		},
		{
			Tag:  "div",
			Text: &CardText{Tag: "lark_md", Content: in.Body},
		},
	}

	if in.URL != "" {
		elements = append(elements,
			CardElement{Tag: "hr"},
			CardElement{
				Tag: "action",
				Actions: []CardAction{
					{
						Tag:  "button",
						Text: CardText{Tag: "plain_text", Content: "查看ECN"},
						Type: "primary",
						URL:  in.URL,
					},
				},
			},
		)
	}

	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: title},
			Template: template,
		},
		Elements: elements,
	}
}
