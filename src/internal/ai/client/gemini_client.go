package client

import (
	"context"
	"fmt"
	"net/url"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient 使用官方 genai SDK 调用 Gemini
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient 创建 Gemini 客户端；BaseURL 非空时请求被改写到该地址
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	cfg.applyDefaults("", defaultGeminiModel)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Gemini base URL: %w", err)
		}
		httpClient.Transport = &rewriteTransport{base: base, next: httpClient.Transport}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: cfg.Model}, nil
}

// Analyze 以 system instruction + 用户文本调用 GenerateContent，要求 JSON 输出
func (c *GeminiClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini api call failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GetName 返回客户端名称
func (c *GeminiClient) GetName() string {
	return fmt.Sprintf("Gemini (%s)", c.model)
}

// Close genai.Client 无需显式关闭
func (c *GeminiClient) Close() error {
	return nil
}
