package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/admi-n/excavator-audit/src/internal/ai/client"
)

// AIClient 定义所有 AI 客户端必须实现的接口
type AIClient interface {
	Analyze(ctx context.Context, systemPrompt, prompt string) (string, error)
	GetName() string
	Close() error
}

// AIClientConfig 客户端配置
type AIClientConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Proxy     string
	MaxTokens int
}

// 支持的 provider 及其别名
var providerAliases = map[string]string{
	"anthropic": "anthropic",
	"claude":    "anthropic",
	"openai":    "openai",
	"chatgpt":   "openai",
	"chatgpt5":  "openai",
	"gpt4":      "openai",
	"deepseek":  "deepseek",
	"local-llm": "ollama",
	"ollama":    "ollama",
	"gemini":    "gemini",
	"genkit":    "genkit",
}

// DefaultProvider 未配置时使用的 provider
const DefaultProvider = "anthropic"

// NewAIClient 根据 provider 创建对应的 AI 客户端
func NewAIClient(ctx context.Context, cfg AIClientConfig) (AIClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}

	clientCfg := client.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Timeout:   cfg.Timeout,
		Proxy:     cfg.Proxy,
		MaxTokens: cfg.MaxTokens,
	}

	switch providerAliases[strings.ToLower(cfg.Provider)] {
	case "anthropic":
		return client.NewAnthropicClient(clientCfg)
	case "openai":
		return client.NewOpenAIClient(clientCfg)
	case "deepseek":
		return client.NewDeepSeekClient(clientCfg)
	case "ollama":
		return client.NewLocalLLMClient(clientCfg)
	case "gemini":
		return client.NewGeminiClient(ctx, clientCfg)
	case "genkit":
		return client.NewGenkitClient(ctx, clientCfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s (supported: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
}

// Providers 返回所有可用的 provider 名称（含别名）
func Providers() []string {
	names := make([]string, 0, len(providerAliases))
	for name := range providerAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateProvider 验证提供商名称是否有效
func ValidateProvider(provider string) error {
	if _, ok := providerAliases[strings.ToLower(provider)]; !ok {
		return fmt.Errorf("invalid provider '%s', must be one of: %s", provider, strings.Join(Providers(), ", "))
	}
	return nil
}

// RequiresAPIKey ollama 以外的 provider 都需要 API key
func RequiresAPIKey(provider string) bool {
	return providerAliases[strings.ToLower(provider)] != "ollama"
}
