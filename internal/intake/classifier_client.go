package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TextResult 推文分类结果
type TextResult struct {
	IsDisaster bool
	Confidence *float64
	Location   string
}

// ImageResult 图像分类结果
type ImageResult struct {
	DisasterType models.DisasterType
	Severity     models.Severity
	Confidence   *float64
}

// textResponse /analyze-tweet 响应：{"result": "true"|"false", "location": "..."}
type textResponse struct {
	Result     string   `json:"result"`
	Location   *string  `json:"location"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

// imageResponse /analyze-image 响应：{"type": "...", "severity": "Mild", "confidence": 0.8}
type imageResponse struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// TextClient 推文分类服务客户端
type TextClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewTextClient 创建推文分类客户端
func NewTextClient(baseURL string, timeout time.Duration, logger *zap.Logger) *TextClient {
	return &TextClient{
		httpClient: newRestyClient(baseURL, timeout),
		logger:     logger,
	}
}

// Classify 判断推文是否与灾害相关，并返回提取到的地名
func (c *TextClient) Classify(ctx context.Context, text string) (*TextResult, error) {
	var response textResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"tweet": text}).
		SetResult(&response).
		SetError(&response).
		Post("/analyze-tweet")
	if err != nil {
		c.logger.Error("Text classifier call failed", zap.Error(err))
		return nil, fmt.Errorf("failed to call text classifier: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("text classifier error: %s (status: %d)", response.Error, resp.StatusCode())
	}

	result := &TextResult{
		IsDisaster: strings.EqualFold(strings.TrimSpace(response.Result), "true"),
		Confidence: response.Confidence,
	}
	if response.Location != nil {
		result.Location = strings.TrimSpace(*response.Location)
	}
	return result, nil
}

// ImageClient 图像分类服务客户端
type ImageClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewImageClient 创建图像分类客户端
func NewImageClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ImageClient {
	return &ImageClient{
		httpClient: newRestyClient(baseURL, timeout),
		logger:     logger,
	}
}

// Classify 根据图像路径识别灾害类型与严重程度
// 严重程度标签 "Little to None"/"Mild"/"Severe" 映射为 Low/Moderate/High
func (c *ImageClient) Classify(ctx context.Context, imagePath string) (*ImageResult, error) {
	var response imageResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"image_path": imagePath}).
		SetResult(&response).
		SetError(&response).
		Post("/analyze-image")
	if err != nil {
		c.logger.Error("Image classifier call failed", zap.Error(err))
		return nil, fmt.Errorf("failed to call image classifier: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("image classifier error: %s (status: %d)", response.Error, resp.StatusCode())
	}

	severity, err := models.ParseSeverity(response.Severity)
	if err != nil {
		return nil, fmt.Errorf("image classifier returned %w", err)
	}
	return &ImageResult{
		DisasterType: models.ParseDisasterType(response.Type),
		Severity:     severity,
		Confidence:   response.Confidence,
	}, nil
}
