package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DEVa-26/Disaster/internal/models"

	"go.uber.org/zap"
)

// MQTTIntake 处理现场终端通过 MQTT 上报的已分类事件
// payload 可以是单个 IncidentRequest，也可以是数组
type MQTTIntake struct {
	allocator Allocator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewMQTTIntake 创建 MQTT 入口
func NewMQTTIntake(allocator Allocator, timeout time.Duration, logger *zap.Logger) *MQTTIntake {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTIntake{
		allocator: allocator,
		timeout:   timeout,
		logger:    logger,
	}
}

// HandleMessage 实现 mqtt.MessageHandler
// 单条请求失败不影响同一批的其他请求，返回合并错误
func (h *MQTTIntake) HandleMessage(topic string, payload []byte) error {
	reqs, err := decodeRequests(payload)
	if err != nil {
		return fmt.Errorf("invalid payload on %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	for _, req := range reqs {
		rec, err := h.allocator.Allocate(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("allocate %s: %w", req.IncidentID, err))
			continue
		}
		h.logger.Info("Incident allocated from MQTT",
			zap.String("topic", topic),
			zap.String("incident_id", rec.IncidentID),
			zap.String("status", string(rec.Status)),
		)
	}
	return errors.Join(errs...)
}

func decodeRequests(payload []byte) ([]models.IncidentRequest, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidRequest)
	}
	if trimmed[0] == '[' {
		var reqs []models.IncidentRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var req models.IncidentRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return []models.IncidentRequest{req}, nil
}
