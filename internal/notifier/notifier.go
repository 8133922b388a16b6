package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/DEVa-26/Disaster/common/redis"
	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 分配结果通知
type Publisher interface {
	Publish(ctx context.Context, record *models.AllocationRecord) error
}

// StreamPublisher 把分配记录写入 Redis Streams，供下游（调度、看板）消费
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建 Redis Streams 通知
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 写入一条消息：索引字段平铺，完整记录放在 data 字段
func (p *StreamPublisher) Publish(ctx context.Context, record *models.AllocationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal allocation record: %w", err)
	}
	id, err := rediscommon.PublishToStream(ctx, p.client, p.stream, map[string]interface{}{
		"incident_id": record.IncidentID,
		"kind":        string(record.Kind),
		"region":      record.Region,
		"status":      string(record.Status),
		"data":        data,
		"timestamp":   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("Allocation published to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("incident_id", record.IncidentID),
	)
	return nil
}

// MessagePublisher MQTT 发布能力（*mqtt.Client 实现）
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 按区域发布到 <prefix>/<region>，现场终端只订阅自己的区域
type MQTTPublisher struct {
	client      MessagePublisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 通知
func NewMQTTPublisher(client MessagePublisher, topicPrefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Topic 区域对应的主题
func (p *MQTTPublisher) Topic(region string) string {
	return p.topicPrefix + "/" + region
}

// Publish 发布 JSON 记录
func (p *MQTTPublisher) Publish(ctx context.Context, record *models.AllocationRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal allocation record: %w", err)
	}
	topic := p.Topic(record.Region)
	if err := p.client.Publish(topic, p.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.logger.Debug("Allocation published to MQTT",
		zap.String("topic", topic),
		zap.String("incident_id", record.IncidentID),
	)
	return nil
}

// Multi 依次通知所有 Publisher，单个失败不影响其他
type Multi []Publisher

// Publish 返回所有失败的合并错误
func (m Multi) Publish(ctx context.Context, record *models.AllocationRecord) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
