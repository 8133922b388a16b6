package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/DEVa-26/Disaster/common/redis"
	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Allocator 分配入口（engine.Engine 实现）
type Allocator interface {
	Allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error)
}

// StreamConfig Streams 消费配置
type StreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// StreamConsumer 从 Redis Streams 读取已分类事件并分配
// 消息格式：data 字段为 IncidentRequest 的 JSON
type StreamConsumer struct {
	config      StreamConfig
	redisClient *redis.Client
	allocator   Allocator
	logger      *zap.Logger

	// 有可重试失败的消息未确认时，下一轮先重读 pending
	retryPending bool
	// 本轮留在 pending 中的消息数，大于 0 时 Start 先退避再重读
	deferred int
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(cfg StreamConfig, redisClient *redis.Client, allocator Allocator, logger *zap.Logger) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamConsumer{
		config:       cfg,
		redisClient:  redisClient,
		allocator:    allocator,
		logger:       logger,
		retryPending: true,
	}
}

// Start 启动消费者（阻塞直到 ctx 结束）
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Stream, c.config.Group); err != nil {
		return err
	}

	c.logger.Info("Incident stream consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("consumer_group", c.config.Group),
		zap.String("consumer_name", c.config.Consumer),
	)

	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.ConsumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume incident stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
		} else if c.deferred > 0 {
			c.logger.Warn("Incident messages deferred, backing off before retry",
				zap.Int("deferred", c.deferred),
				zap.Duration("backoff", backoffDuration),
			)
		} else {
			backoffDuration = time.Second
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
		}
	}
}

// ConsumeOnce 读取并处理一批消息，返回处理条数
func (c *StreamConsumer) ConsumeOnce(ctx context.Context) (int, error) {
	var (
		messages []rediscommon.StreamMessage
		err      error
	)
	c.deferred = 0
	if c.retryPending {
		messages, err = rediscommon.ReadPendingFromStream(ctx, c.redisClient, c.config.Stream, c.config.Group, c.config.Consumer, c.config.BatchSize)
		if err == nil && len(messages) == 0 {
			c.retryPending = false
		}
	}
	if !c.retryPending {
		messages, err = rediscommon.ReadFromStream(ctx, c.redisClient, c.config.Stream, c.config.Group, c.config.Consumer, c.config.BatchSize, c.config.Block)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.config.Stream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			if models.IsRetryable(err) {
				// 不确认，留在 pending 中稍后重试
				c.retryPending = true
				c.deferred++
				c.logger.Warn("Allocation timed out, message left pending",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			c.logger.Error("Failed to process incident message",
				zap.String("stream", c.config.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, c.config.Stream, c.config.Group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return len(messages), nil
}

// processMessage 处理单条消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok || raw == "" {
		return fmt.Errorf("%w: message %s has no data field", models.ErrInvalidRequest, msg.ID)
	}

	var req models.IncidentRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return fmt.Errorf("failed to decode incident request: %w", err)
	}

	rec, err := c.allocator.Allocate(ctx, req)
	if err != nil {
		return fmt.Errorf("allocate %s: %w", req.IncidentID, err)
	}

	c.logger.Debug("Incident allocated from stream",
		zap.String("message_id", msg.ID),
		zap.String("incident_id", rec.IncidentID),
		zap.String("status", string(rec.Status)),
	)
	return nil
}
