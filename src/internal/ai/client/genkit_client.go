package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	oai "github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/openai/openai-go/option"
)

const defaultGenkitModel = "googleai/gemini-2.0-flash"

// GenkitClient 通过 Genkit 调用模型。模型 ID 带插件前缀：
// googleai/... 使用 Google AI 插件，openai/... 使用 OpenAI 兼容插件。
type GenkitClient struct {
	genkit  *genkit.Genkit
	modelID string
}

// NewGenkitClient 根据模型前缀初始化对应插件
func NewGenkitClient(ctx context.Context, cfg Config) (*GenkitClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	cfg.applyDefaults("", defaultGenkitModel)
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	modelID := cfg.Model
	if !strings.Contains(modelID, "/") {
		modelID = "googleai/" + modelID
	}

	var g *genkit.Genkit
	switch {
	case strings.HasPrefix(modelID, "openai/"):
		// OpenAI 兼容接口（智谱、DeepSeek 网关等）
		opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		g = genkit.Init(ctx,
			genkit.WithDefaultModel(modelID),
			genkit.WithPlugins(&oai.OpenAI{APIKey: cfg.APIKey, Opts: opts}),
		)

	case strings.HasPrefix(modelID, "googleai/"):
		// 插件自建 HTTP 客户端，代理走 HTTPS_PROXY 环境变量，超时由调用方 ctx 控制
		g = genkit.Init(ctx,
			genkit.WithDefaultModel(modelID),
			genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.APIKey}),
		)

	default:
		return nil, fmt.Errorf("unsupported genkit model %q (expected googleai/... or openai/...)", modelID)
	}

	return &GenkitClient{genkit: g, modelID: modelID}, nil
}

// Analyze system prompt 与用户 prompt 合并为一条消息发送
func (c *GenkitClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	answer, err := genkit.GenerateText(ctx, c.genkit,
		ai.WithModelName(c.modelID),
		ai.WithPrompt(systemPrompt+"\n\n"+prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating audit: %w", err)
	}
	if answer == "" {
		return "", ErrEmptyResponse
	}
	return answer, nil
}

// GetName 返回客户端名称
func (c *GenkitClient) GetName() string {
	return fmt.Sprintf("Genkit (%s)", c.modelID)
}

// Close 无需释放资源
func (c *GenkitClient) Close() error {
	return nil
}
