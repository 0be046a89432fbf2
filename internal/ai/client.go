package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"riskgate/internal/config"
)

// Client 经 OpenAI 兼容接口调用 Gemini，支持多模型降级与并发上限。
// 它实现了编排层的 Evaluator 接口。
type Client struct {
	cfg    config.GeminiConfig
	logger *zap.Logger
	sdk    *openai.Client
	sem    *semaphore.Weighted
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.GeminiConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api_key 不能为空")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("gemini models 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryMinDelay <= 0 {
		cfg.RetryMinDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

// Invoke 渲染提示词并依次尝试模型链，返回解析后的 JSON 载荷。
func (c *Client) Invoke(ctx context.Context, requestType string, params map[string]interface{}) (map[string]interface{}, error) {
	prompt, err := BuildPrompt(requestType, params)
	if err != nil {
		return nil, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("等待并发额度失败: %w", err)
	}
	defer c.sem.Release(1)

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	payload, err := parsePayload(raw)
	if err != nil {
		c.logger.Error("解析模型输出失败",
			zap.Error(err),
			zap.String("request_type", requestType),
			zap.String("raw_content", raw),
		)
		return nil, err
	}

	return payload, nil
}

// generate 按模型链逐个尝试，配额错误在单个模型内指数退避重试。
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for _, model := range c.cfg.Models {
		delay := c.cfg.RetryMinDelay

		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			content, err := c.complete(ctx, model, prompt)
			if err == nil {
				return content, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			msg := strings.ToLower(err.Error())
			skipModel := false
			switch {
			case strings.Contains(msg, "429"):
				c.logger.Warn("模型配额受限，退避后重试",
					zap.String("model", model),
					zap.Int("attempt", attempt+1),
				)
				if err := sleepCtx(ctx, delay); err != nil {
					return "", err
				}
				delay *= 2
			case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
				c.logger.Warn("模型不可用，切换下一个模型", zap.String("model", model))
				skipModel = true
			default:
				c.logger.Error("模型调用失败",
					zap.String("model", model),
					zap.Error(err),
				)
				if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
					return "", err
				}
			}
			if skipModel {
				break
			}
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("模型链全部失败: %w", lastErr)
	}
	return "", errors.New("gemini models 不能为空")
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("调用模型 %s 失败: %w", model, err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("模型 %s 返回结果为空", model)
	}
	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("模型 %s 返回内容为空", model)
	}

	return content, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parsePayload(content string) (map[string]interface{}, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err = json.Unmarshal(jsonPayload, &payload); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}

	return payload, nil
}

// extractJSON 从可能带有 markdown 围栏的输出中截取 JSON 对象。
func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
