package internal

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProxyManager 出站 HTTP 代理（模型 API、Etherscan 共用）
type ProxyManager struct {
	proxyURL *url.URL // nil 表示直连
}

// NewProxyManager 创建代理管理器；proxyURL 为空表示不使用代理
func NewProxyManager(proxyURL string) (*ProxyManager, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return &ProxyManager{}, nil
	}

	if err := ValidateProxyURL(proxyURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(proxyURL)
	return &ProxyManager{proxyURL: u}, nil
}

// CreateHTTPClient 创建 HTTP 客户端；timeout 为 0 时不设整体超时（流式响应）
func (pm *ProxyManager) CreateHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: pm.CreateHTTPTransport(),
	}
}

// CreateHTTPTransport 基于默认 Transport 克隆，启用代理时替换 Proxy
func (pm *ProxyManager) CreateHTTPTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.IdleConnTimeout = 30 * time.Second

	if pm.proxyURL != nil {
		transport.Proxy = http.ProxyURL(pm.proxyURL)
	}
	return transport
}

// IsEnabled 检查代理是否启用
func (pm *ProxyManager) IsEnabled() bool {
	return pm.proxyURL != nil
}

// GetProxyURL 获取代理URL
func (pm *ProxyManager) GetProxyURL() string {
	if pm.proxyURL == nil {
		return ""
	}
	return pm.proxyURL.String()
}

// ValidateProxyURL 验证代理URL格式
func ValidateProxyURL(proxyURL string) error {
	if strings.TrimSpace(proxyURL) == "" {
		return nil // 空字符串表示不使用代理
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL format: %w", err)
	}

	// 检查协议
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5" {
		return fmt.Errorf("unsupported proxy scheme: %s (supported: http, https, socks5)", u.Scheme)
	}

	// 检查主机名
	if u.Host == "" {
		return fmt.Errorf("proxy host cannot be empty")
	}

	return nil
}

// CreateProxyHTTPClient 便捷函数：创建带代理的HTTP客户端
func CreateProxyHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	pm, err := NewProxyManager(proxyURL)
	if err != nil {
		return nil, err
	}

	return pm.CreateHTTPClient(timeout), nil
}
