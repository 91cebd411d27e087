// Package event ECN领域事件：状态迁移提交后由分发器消费
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	NoticeCreated       Type = "notice.created"
	NoticeSubmitted     Type = "notice.submitted"
	EvaluationCreated   Type = "evaluation.created"
	EvaluationSubmitted Type = "evaluation.submitted"
	EvaluationCompleted Type = "evaluation.completed"
	ApprovalCreated     Type = "approval.created"
	ApprovalAssigned    Type = "approval.assigned"
	ApprovalDecided     Type = "approval.decided"
	NoticeApproved      Type = "notice.approved"
	NoticeRejected      Type = "notice.rejected"
	ExecutionStarted    Type = "execution.started"
	TaskCreated         Type = "task.created"
	TaskCompleted       Type = "task.completed"
	NoticeCompleted     Type = "notice.completed"
	NoticeVerified      Type = "notice.verified"
	NoticeClosed        Type = "notice.closed"
	NoticeCancelled     Type = "notice.cancelled"
	BOMImpactAnalyzed   Type = "bom.impact_analyzed"
	OverdueAlert        Type = "overdue.alert"
)

// 通知优先级
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Event 领域事件
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	NoticeID   string                 `json:"notice_id"`
	NoticeCode string                 `json:"notice_code"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Title      string                 `json:"title"`
	Body       string                 `json:"body"`
	Priority   string                 `json:"priority"`
	Link       string                 `json:"link,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// New 创建事件
func New(t Type, noticeID, noticeCode, actorID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		NoticeID:   noticeID,
		NoticeCode: noticeCode,
		ActorID:    actorID,
		Priority:   PriorityNormal,
		OccurredAt: time.Now(),
	}
}

// To 设置接收人，空ID忽略
func (e Event) To(recipients ...string) Event {
	for _, r := range recipients {
		if r == "" {
			continue
		}
		dup := false
		for _, existing := range e.Recipients {
			if existing == r {
				dup = true
				break
			}
		}
		if !dup {
			e.Recipients = append(e.Recipients, r)
		}
	}
	return e
}

// Message 设置标题和正文
func (e Event) Message(title, body string) Event {
	e.Title = title
	e.Body = body
	return e
}

// Urgent 高优先级
func (e Event) Urgent() Event {
	e.Priority = PriorityHigh
	return e
}

// With 附加载荷
func (e Event) With(key string, value interface{}) Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value
	e.Payload = payload
	return e
}
