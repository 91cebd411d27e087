package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
)

// EventPublisher 领域事件外发
type EventPublisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// KafkaPublisher 以 notice_id 为 key 写入 Kafka，同一ECN的事件落在同一分区保持顺序
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaProducer 按配置创建同步生产者
func NewKafkaProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	return sarama.NewSyncProducer(cfg.Brokers, sc)
}

// NewKafkaPublisher 创建事件发布器
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish 发送单条事件
func (p *KafkaPublisher) Publish(_ context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.NoticeID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send event %s: %w", e.ID, err)
	}

	p.logger.Debug("ecn event published",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
