package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEtherscanBaseURL = "https://api.etherscan.io/v2"
	defaultChainID          = "1"
	maxAttempts             = 3
	userAgent               = "excavator-audit/1.0"
)

// EtherscanConfig Etherscan API 配置
type EtherscanConfig struct {
	APIKey  string
	BaseURL string
	ChainID string
	Proxy   string        // 可选的 HTTP 代理 URL（例如 http://127.0.0.1:7897）
	Timeout time.Duration // 单次请求超时
}

// etherscanResponse Etherscan API 响应结构。
// 出错时 result 是一段字符串（例如 "Invalid API Key"），因此先保留原始 JSON。
type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanSource struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
	Proxy           string `json:"Proxy"`
	Implementation  string `json:"Implementation"`
}

// buildSourceURL 使用 url.Values 构建请求地址，避免拼接错误
func buildSourceURL(cfg EtherscanConfig, address string) (string, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultEtherscanBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("解析 Etherscan BaseURL 失败: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api"

	chainID := cfg.ChainID
	if chainID == "" {
		chainID = defaultChainID
	}

	q := url.Values{}
	q.Set("chainid", chainID)
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	q.Set("apikey", strings.TrimSpace(cfg.APIKey))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetchSource 请求 getsourcecode 接口。短暂网络错误/EOF/超时时重试，
// 未验证（status != "1" 或 SourceCode 为空）返回 ErrNotVerified。
func fetchSource(ctx context.Context, client *http.Client, cfg EtherscanConfig, address string) (*etherscanSource, error) {
	finalURL, err := buildSourceURL(cfg, address)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
		if err != nil {
			return nil, fmt.Errorf("创建 Etherscan 请求失败: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if isTemporaryNetErr(err) && attempt < maxAttempts {
				if serr := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("%w: 请求 Etherscan API 失败: %v", ErrUpstream, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if isTemporaryNetErr(readErr) && attempt < maxAttempts {
				if serr := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("%w: 读取 Etherscan 响应失败: %v", ErrUpstream, readErr)
		}

		if resp.StatusCode != http.StatusOK {
			snippet := string(body)
			if len(snippet) > 1024 {
				snippet = snippet[:1024]
			}
			return nil, fmt.Errorf("%w: Etherscan 返回非 200 状态: %d, body: %s", ErrUpstream, resp.StatusCode, snippet)
		}

		var etherscanResp etherscanResponse
		if jerr := json.Unmarshal(body, &etherscanResp); jerr != nil {
			lastErr = jerr
			// JSON 解析错误通常不可恢复，但做少量重试以应对偶发损坏
			if attempt < maxAttempts {
				if serr := sleepCtx(ctx, time.Duration(attempt)*300*time.Millisecond); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("%w: 解析 Etherscan JSON 失败: %v", ErrUpstream, jerr)
		}

		// status != "1" 表示未验证或其它业务层面的问题（不是网络错误）
		if etherscanResp.Status != "1" {
			return nil, ErrNotVerified
		}

		var results []etherscanSource
		if err := json.Unmarshal(etherscanResp.Result, &results); err != nil || len(results) == 0 {
			return nil, ErrNotVerified
		}
		res := results[0]
		if strings.TrimSpace(res.SourceCode) == "" {
			return nil, ErrNotVerified
		}
		return &res, nil
	}

	return nil, fmt.Errorf("%w: 请求 Etherscan 多次失败: %v", ErrUpstream, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTemporaryNetErr 判断是否为可重试的网络错误
func isTemporaryNetErr(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	// 常见的 IO 错误也视为临时
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// RateLimiter 简单的速率限制器
type RateLimiter struct {
	ticker *time.Ticker
}

// NewRateLimiter 创建速率限制器（每秒最多 requestsPerSecond 个请求）
func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	interval := time.Second / time.Duration(requestsPerSecond)
	return &RateLimiter{
		ticker: time.NewTicker(interval),
	}
}

// Wait 等待直到可以发送下一个请求
func (r *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ticker.C:
		return nil
	}
}

// Stop 停止速率限制器
func (r *RateLimiter) Stop() {
	r.ticker.Stop()
}
