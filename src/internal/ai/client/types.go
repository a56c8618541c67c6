package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/admi-n/excavator-audit/src/internal"
)

// ErrEmptyResponse 模型没有返回任何文本
var ErrEmptyResponse = errors.New("model returned an empty response")

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
	maxResponseBody  = 8 << 20
)

// Config 所有 provider 共用的客户端配置
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Proxy     string // HTTP 代理，例如 http://127.0.0.1:7897
	MaxTokens int
}

func (c *Config) applyDefaults(baseURL, model string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// newHTTPClient 创建带可选代理的 HTTP 客户端
func newHTTPClient(cfg Config) (*http.Client, error) {
	if err := internal.ValidateProxyURL(cfg.Proxy); err != nil {
		return nil, err
	}
	return internal.CreateProxyHTTPClient(cfg.Proxy, cfg.Timeout)
}

// readBody 读取响应体并限制大小
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// 共享的 OpenAI 兼容 API 类型定义

// Message 消息结构
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice 选择结构
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage 使用情况结构
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError API 错误结构
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// rewriteTransport 把请求改写到指定的 BaseURL（自建网关或测试服务器）
type rewriteTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.Host = t.base.Host
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(r)
}
