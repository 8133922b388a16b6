package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TextClassifier 推文分类
type TextClassifier interface {
	Classify(ctx context.Context, text string) (*TextResult, error)
}

// ImageClassifier 图像分类
type ImageClassifier interface {
	Classify(ctx context.Context, imagePath string) (*ImageResult, error)
}

// Allocator 分配入口
type Allocator interface {
	Allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error)
}

// Signal 一条原始上报（推文和/或图像）
type Signal struct {
	IncidentID string `json:"incident_id"`
	Text       string `json:"text"`
	ImagePath  string `json:"image_path"`
	Location   string `json:"location"`
}

// Outcome 处理结果；Dropped 表示文本分类判定与灾害无关，未进入分配
type Outcome struct {
	IncidentID string                   `json:"incident_id"`
	Dropped    bool                     `json:"dropped"`
	Request    *models.IncidentRequest  `json:"request,omitempty"`
	Record     *models.AllocationRecord `json:"record,omitempty"`
}

// Pipeline 分类 -> 组装请求 -> 分配
// 分类调用全部在 Allocate 之前完成
type Pipeline struct {
	text      TextClassifier
	image     ImageClassifier
	allocator Allocator
	logger    *zap.Logger
}

// NewPipeline 创建处理流水线；text/image 可以为 nil（对应的输入会被拒绝）
func NewPipeline(text TextClassifier, image ImageClassifier, allocator Allocator, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		text:      text,
		image:     image,
		allocator: allocator,
		logger:    logger,
	}
}

// Process 处理一条上报
// 1. 文本分类为否 -> 丢弃
// 2. 图像分类给出灾害类型与严重程度；只有文本时按 Other/Moderate 处理
// 3. 位置：显式 Location 优先，其次为文本中提取的地名
// 4. 置信度取各分类结果的最小值
func (p *Pipeline) Process(ctx context.Context, sig Signal) (*Outcome, error) {
	sig.Text = strings.TrimSpace(sig.Text)
	sig.ImagePath = strings.TrimSpace(sig.ImagePath)
	if sig.Text == "" && sig.ImagePath == "" {
		return nil, fmt.Errorf("%w: signal has neither text nor image", models.ErrInvalidRequest)
	}
	if sig.IncidentID == "" {
		sig.IncidentID = uuid.NewString()
	}

	req := models.IncidentRequest{
		IncidentID:   sig.IncidentID,
		DisasterType: models.DisasterOther,
		Severity:     models.SeverityModerate,
		Location:     strings.TrimSpace(sig.Location),
	}
	var confidences []float64

	if sig.Text != "" {
		if p.text == nil {
			return nil, fmt.Errorf("%w: text classifier not configured", models.ErrInvalidRequest)
		}
		res, err := p.text.Classify(ctx, sig.Text)
		if err != nil {
			return nil, err
		}
		if !res.IsDisaster {
			p.logger.Info("Signal dropped by text classifier", zap.String("incident_id", sig.IncidentID))
			return &Outcome{IncidentID: sig.IncidentID, Dropped: true}, nil
		}
		if req.Location == "" {
			req.Location = res.Location
		}
		if res.Confidence != nil {
			confidences = append(confidences, *res.Confidence)
		}
	}

	if sig.ImagePath != "" {
		if p.image == nil {
			return nil, fmt.Errorf("%w: image classifier not configured", models.ErrInvalidRequest)
		}
		res, err := p.image.Classify(ctx, sig.ImagePath)
		if err != nil {
			return nil, err
		}
		req.DisasterType = res.DisasterType
		req.Severity = res.Severity
		if res.Confidence != nil {
			confidences = append(confidences, *res.Confidence)
		}
	}

	req.SourceConfidence = minConfidence(confidences)

	rec, err := p.allocator.Allocate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{IncidentID: sig.IncidentID, Request: &req, Record: rec}, nil
}

// minConfidence 最小值，截断到 [0,1]；没有任何置信度时为 0
func minConfidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}
