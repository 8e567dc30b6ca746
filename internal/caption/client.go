package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CaptionRequest 图像描述请求
type CaptionRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"` // base64 编码
	Stream bool     `json:"stream"`
}

// CaptionResponse 图像描述响应
type CaptionResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Client 图像描述服务客户端（兼容 Ollama /api/generate 协议）
type Client struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

func NewClient(baseURL, model string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second). // 本地推理可能较慢
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if model == "" {
		model = "llava"
	}

	return &Client{
		httpClient: client,
		model:      model,
		logger:     logger,
	}
}

// Caption 为一张图像生成一句描述
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	request := CaptionRequest{
		Model:  c.model,
		Prompt: "Describe this image in one short sentence.",
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("caption service returned status %d", resp.StatusCode())
	}

	var result CaptionResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to decode caption response: %w", err)
	}
	if result.Response == "" {
		return "", fmt.Errorf("caption service returned empty response")
	}

	c.logger.Debug("Image caption generated", zap.Int("image_bytes", len(image)))
	return result.Response, nil
}
