package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/excavator-audit/src/internal/logging"
)

// DefaultTimeout 单次模型调用（含限流等待）的上限
const DefaultTimeout = 60 * time.Second

// Manager 管理 AI 客户端，对模型调用做限流并记录耗时
type Manager struct {
	client    AIClient
	rateLimit *rateLimiter
	timeout   time.Duration
	logger    *zap.SugaredLogger
	closeOnce sync.Once
}

type rateLimiter struct {
	requests chan struct{}
	interval time.Duration
	stop     chan struct{}
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		requests: make(chan struct{}, requestsPerMinute),
		interval: time.Minute / time.Duration(requestsPerMinute),
		stop:     make(chan struct{}),
	}

	for i := 0; i < requestsPerMinute; i++ {
		rl.requests <- struct{}{}
	}

	go func() {
		ticker := time.NewTicker(rl.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case rl.requests <- struct{}{}:
				default:
				}
			case <-rl.stop:
				return
			}
		}
	}()

	return rl
}

func (rl *rateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.requests:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.stop)
}

type ManagerConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	Proxy          string
	MaxTokens      int
	RequestsPerMin int
	Logger         *zap.SugaredLogger
}

// NewManager 创建新的 AI 管理器
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.APIKey == "" && RequiresAPIKey(cfg.Provider) {
		return nil, fmt.Errorf("API key for provider %s is not configured", cfg.Provider)
	}

	client, err := NewAIClient(ctx, AIClientConfig{
		Provider:  cfg.Provider,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Timeout:   cfg.Timeout,
		Proxy:     cfg.Proxy,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	m := newManager(client, cfg.RequestsPerMin, cfg.Logger)
	if cfg.Timeout > 0 {
		m.timeout = cfg.Timeout
	}
	return m, nil
}

// NewManagerWithClient 使用已有客户端创建管理器，超时为 DefaultTimeout
func NewManagerWithClient(client AIClient, requestsPerMin int, logger *zap.SugaredLogger) *Manager {
	return newManager(client, requestsPerMin, logger)
}

func newManager(client AIClient, requestsPerMin int, logger *zap.SugaredLogger) *Manager {
	if requestsPerMin <= 0 {
		requestsPerMin = 20
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		client:    client,
		rateLimit: newRateLimiter(requestsPerMin),
		timeout:   DefaultTimeout,
		logger:    logger,
	}
}

// Analyze 等待限流令牌后调用模型，返回原始文本。失败不重试。
// 限流等待与模型调用共用同一个超时。
func (m *Manager) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.rateLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	m.logger.Debugw("正在分析合约", "client", m.client.GetName(), "prompt_chars", len(prompt))

	startTime := time.Now()
	response, err := m.client.Analyze(ctx, systemPrompt, prompt)
	duration := time.Since(startTime)
	if err != nil {
		m.logger.Warnw("模型调用失败", "client", m.client.GetName(), "duration", duration, "error", err)
		return "", fmt.Errorf("AI analysis failed: %w", err)
	}

	m.logger.Infow("分析完成", "client", m.client.GetName(), "duration", duration, "response_chars", len(response))
	return response, nil
}

func (m *Manager) GetClientInfo() string {
	return m.client.GetName()
}

func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.rateLimit.Stop()
		if m.client != nil {
			err = m.client.Close()
		}
	})
	return err
}

// TestConnection 发送一条很短的请求确认凭据与网络可用，占用一个限流令牌
func (m *Manager) TestConnection(ctx context.Context) error {
	m.logger.Infow("测试 AI 客户端连接", "client", m.client.GetName())

	testPrompt := "Please respond with 'OK' if you can read this message."
	if _, err := m.Analyze(ctx, "You are a connectivity check.", testPrompt); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	m.logger.Infow("AI 客户端连接成功", "client", m.client.GetName())
	return nil
}
