package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/logger"
)

// EventType 知识库事件类型
type EventType string

const (
	EventIndexed EventType = "knowledge.indexed"
	EventPurged  EventType = "knowledge.purged"
)

// Event 知识库变更事件
type Event struct {
	Type       EventType `json:"type"`
	SourceID   string    `json:"source_id,omitempty"`
	SourceKind string    `json:"source_kind,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventPublisher 事件发布接口
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Publisher Kafka事件发布者
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher 连接Kafka并创建同步生产者
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewPublisherWithProducer(producer, topic), nil
}

// NewPublisherWithProducer 使用已有的生产者创建发布者
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish 发送事件，按来源分区
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	if event.SourceID != "" {
		msg.Key = sarama.StringEncoder(event.SourceID)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to publish kafka event", zap.String("type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("publish event: %w", err)
	}

	logger.Debug("kafka event published",
		zap.String("type", string(event.Type)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Publisher) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopPublisher 未配置Kafka时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
