package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/logger"
)

// 知识库事件类型
const (
	EventDocumentUploaded     = "document.uploaded"
	EventDocumentIndexed      = "document.indexed"
	EventDocumentDeleted      = "document.deleted"
	EventKnowledgeBaseDeleted = "knowledge_base.deleted"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// KnowledgeEvent 知识库变更事件
type KnowledgeEvent struct {
	Type            string    `json:"type"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	DocumentID      string    `json:"document_id,omitempty"`
	ChunkCount      int       `json:"chunk_count,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// SendEvent 发送事件到Kafka
func (p *Producer) SendEvent(event *KnowledgeEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.KnowledgeBaseID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("failed to send kafka event", zap.Error(err))
		return fmt.Errorf("failed to send event: %w", err)
	}

	logger.Debug("kafka event sent",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("type", event.Type),
		zap.String("knowledge_base_id", event.KnowledgeBaseID))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PublishKnowledgeEvent 发送知识库事件（便捷方法）。
// Kafka未配置时静默跳过，不影响主流程。
func PublishKnowledgeEvent(eventType, kbID, documentID string, chunkCount int) {
	producer := GetProducer()
	if producer == nil {
		return
	}

	event := &KnowledgeEvent{
		Type:            eventType,
		KnowledgeBaseID: kbID,
		DocumentID:      documentID,
		ChunkCount:      chunkCount,
		Timestamp:       time.Now(),
	}

	if err := producer.SendEvent(event); err != nil {
		logger.Warn("failed to publish knowledge event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
