package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-3-5-sonnet-latest"
)

// AnthropicClient 使用官方 SDK 调用 Anthropic Messages API
type AnthropicClient struct {
	client     anthropic.Client
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewAnthropicClient 创建 Anthropic 客户端，SDK 自带的重试被关闭
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	cfg.applyDefaults(defaultAnthropicURL, defaultAnthropicModel)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &AnthropicClient{
		client:     client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpClient,
	}, nil
}

// Analyze 发送 system + user prompt，返回所有 text 块拼接后的文本
func (c *AnthropicClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}

	return text.String(), nil
}

// GetName 返回客户端名称
func (c *AnthropicClient) GetName() string {
	return fmt.Sprintf("Anthropic (%s)", c.model)
}

// Close 清理资源
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
