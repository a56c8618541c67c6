package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
)

// LocalLLMClient 本地 LLM 客户端（例如 Ollama）
type LocalLLMClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Ollama API 请求/响应结构
type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewLocalLLMClient 创建本地 LLM 客户端，不需要 API key
func NewLocalLLMClient(cfg Config) (*LocalLLMClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second // 本地模型可能需要更长时间
	}
	cfg.applyDefaults(defaultOllamaURL, defaultOllamaModel)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	return &LocalLLMClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpClient,
	}, nil
}

// Analyze 调用 /api/generate，要求模型输出 JSON
func (c *LocalLLMClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.model,
		System: systemPrompt,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet(body))
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", apiResp.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet(body))
	}
	if apiResp.Response == "" {
		return "", ErrEmptyResponse
	}

	return apiResp.Response, nil
}

// GetName 返回客户端名称
func (c *LocalLLMClient) GetName() string {
	return fmt.Sprintf("Local LLM (%s)", c.model)
}

// Close 清理资源
func (c *LocalLLMClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
