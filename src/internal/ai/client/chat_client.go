package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4-turbo"
	defaultDeepSeekURL   = "https://api.deepseek.com/v1"
	defaultDeepSeekModel = "deepseek-chat"
)

// ChatClient 调用 OpenAI 兼容的 chat/completions 接口（OpenAI、DeepSeek 等）
type ChatClient struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg Config) (*ChatClient, error) {
	cfg.applyDefaults(defaultOpenAIURL, defaultOpenAIModel)
	return newChatClient("OpenAI", cfg)
}

// NewDeepSeekClient 创建 DeepSeek 客户端
func NewDeepSeekClient(cfg Config) (*ChatClient, error) {
	cfg.applyDefaults(defaultDeepSeekURL, defaultDeepSeekModel)
	return newChatClient("DeepSeek", cfg)
}

func newChatClient(name string, cfg Config) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ChatClient{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpClient,
	}, nil
}

// Analyze 发送 system + user prompt 并返回第一个 choice 的内容
func (c *ChatClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1, // 较低的温度以获得更确定的结果
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet(body))
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("%s API error: %s (type: %s, code: %v)",
			c.name, apiResp.Error.Message, apiResp.Error.Type, apiResp.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet(body))
	}

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	return apiResp.Choices[0].Message.Content, nil
}

// GetName 返回客户端名称
func (c *ChatClient) GetName() string {
	return fmt.Sprintf("%s (%s)", c.name, c.model)
}

// Close 清理资源
func (c *ChatClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
