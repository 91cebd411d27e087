package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
)

// Dispatcher 事务提交后投递事件：逐个接收人通知，再整体外发
// 投递失败只记日志和指标，不回滚业务
type Dispatcher struct {
	notifier  Notifier
	publisher EventPublisher
	logger    *zap.Logger
}

// NewDispatcher notifier 和 publisher 都可以为 nil
func NewDispatcher(notifier Notifier, publisher EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, publisher: publisher, logger: logger}
}

// Dispatch 投递一批事件
func (d *Dispatcher) Dispatch(ctx context.Context, events []event.Event) {
	for _, e := range events {
		d.notify(ctx, e)
		d.publish(ctx, e)
	}
}

func (d *Dispatcher) notify(ctx context.Context, e event.Event) {
	if d.notifier == nil {
		return
	}
	for _, recipient := range e.Recipients {
		err := d.notifier.Notify(ctx, Notification{
			RecipientID: recipient,
			Category:    string(e.Type),
			Title:       e.Title,
			Body:        e.Body,
			Priority:    e.Priority,
			Link:        e.Link,
			NoticeID:    e.NoticeID,
			NoticeCode:  e.NoticeCode,
		})
		metrics.RecordNotification(d.notifier.Name(), err)
		if err != nil {
			d.logger.Warn("ecn notification failed",
				zap.String("event", string(e.Type)),
				zap.String("notice_code", e.NoticeCode),
				zap.String("recipient", recipient),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e event.Event) {
	if d.publisher == nil {
		return
	}
	status := "success"
	if err := d.publisher.Publish(ctx, e); err != nil {
		status = "failed"
		d.logger.Warn("ecn event publish failed",
			zap.String("event_id", e.ID),
			zap.String("event", string(e.Type)),
			zap.Error(err))
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), status).Inc()
}
