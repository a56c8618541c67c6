package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/admi-n/excavator-audit/src/internal/ai"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "config/settings.yaml"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AIConfig 模型相关配置
type AIConfig struct {
	Provider         string        `yaml:"provider"` // anthropic / openai / deepseek / ollama / gemini / genkit
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"` // 可选，默认使用官方 API
	Model            string        `yaml:"model"`    // 可选，每个 provider 有默认模型
	Timeout          time.Duration `yaml:"timeout"`
	MaxTokens        int           `yaml:"max_tokens"`
	RequestsPerMin   int           `yaml:"requests_per_min"`
	PromptFile       string        `yaml:"prompt_file"`        // 可选，覆盖用户 prompt 模板
	SystemPromptFile string        `yaml:"system_prompt_file"` // 可选，覆盖审计指令
}

// AnalysisConfig 分析流程参数
type AnalysisConfig struct {
	MaxFindings    int           `yaml:"max_findings"`
	PacingDelay    time.Duration `yaml:"pacing_delay"`
	MaxPromptChars int           `yaml:"max_prompt_chars"`
	MaxStoredChars int           `yaml:"max_stored_chars"`
	MinCodeLength  int           `yaml:"min_code_length"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// StorageConfig 审计记录存储
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory / mysql / postgres / sqlite3 / pebble
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"` // pebble 数据目录
}

// EtherscanConfig 合约源码查询
type EtherscanConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	ChainID        string        `yaml:"chain_id"`
	RPCURL         string        `yaml:"rpc_url"` // 可选，用于区分"无合约代码"与"未开源"
	RequestsPerSec int           `yaml:"requests_per_sec"`
	Timeout        time.Duration `yaml:"timeout"`
}

// PaymentConfig x402 支付校验
type PaymentConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PayTo          string `yaml:"pay_to"`
	Price          string `yaml:"price"` // 例如 $0.50
	Network        string `yaml:"network"`
	Asset          string `yaml:"asset"`
	Description    string `yaml:"description"`
	FacilitatorURL string `yaml:"facilitator_url"` // 验证 X-PAYMENT 的 facilitator
}

// Settings 全局配置结构
type Settings struct {
	Server    ServerConfig    `yaml:"server"`
	AI        AIConfig        `yaml:"ai"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Storage   StorageConfig   `yaml:"storage"`
	Etherscan EtherscanConfig `yaml:"etherscan"`
	Payment   PaymentConfig   `yaml:"payment"`
	Proxy     string          `yaml:"proxy"` // HTTP 代理，例如 http://127.0.0.1:7897
}

// DefaultSettings 返回默认配置
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		AI: AIConfig{
			Provider:       ai.DefaultProvider,
			Timeout:        60 * time.Second,
			MaxTokens:      4096,
			RequestsPerMin: 20,
		},
		Analysis: AnalysisConfig{
			MaxFindings:    50,
			PacingDelay:    150 * time.Millisecond,
			MaxPromptChars: 30000,
			MaxStoredChars: 50000,
			MinCodeLength:  10,
			PersistTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "data/audits",
		},
		Etherscan: EtherscanConfig{
			BaseURL:        "https://api.etherscan.io/v2",
			ChainID:        "1",
			RequestsPerSec: 5,
			Timeout:        30 * time.Second,
		},
		Payment: PaymentConfig{
			PayTo:          "0x0000000000000000000000000000000000000000",
			Price:          "$0.50",
			Network:        "base",
			Asset:          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // Base 主网 USDC
			Description:    "AI Contract Audit",
			FacilitatorURL: "https://x402.org/facilitator",
		},
	}
}

// LoadSettings 加载配置文件并应用环境变量；文件不存在时使用默认配置
func LoadSettings(configPath string) (*Settings, error) {
	settings := DefaultSettings()

	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	settings.applyEnv(os.Getenv)
	return settings, nil
}

// 每个 provider 对应的 API key 环境变量
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"claude":    "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"chatgpt":   "OPENAI_API_KEY",
	"chatgpt5":  "OPENAI_API_KEY",
	"gpt4":      "OPENAI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"genkit":    "GEMINI_API_KEY",
}

// applyEnv 环境变量优先于配置文件
func (s *Settings) applyEnv(getenv func(string) string) {
	if v := getenv("AUDIT_AI_PROVIDER"); v != "" {
		s.AI.Provider = v
	}
	if name, ok := providerKeyEnv[strings.ToLower(s.AI.Provider)]; ok {
		if v := getenv(name); v != "" {
			s.AI.APIKey = v
		}
	}
	if v := getenv("ETHERSCAN_API_KEY"); v != "" {
		s.Etherscan.APIKey = v
	}
	if v := getenv("AUDIT_DB_DSN"); v != "" {
		s.Storage.DSN = v
	}
	if v := getenv("X402_PAYTO_ADDRESS"); v != "" {
		s.Payment.PayTo = v
	}
	if v := getenv("X402_FACILITATOR_URL"); v != "" {
		s.Payment.FacilitatorURL = v
	}
	if v := getenv("HTTPS_PROXY"); v != "" && s.Proxy == "" {
		s.Proxy = v
	}
}

var storageDrivers = map[string]bool{
	"memory":   true,
	"mysql":    true,
	"postgres": true,
	"sqlite3":  true,
	"pebble":   true,
}

// Validate 检查配置是否合法
func (s *Settings) Validate() error {
	if err := ai.ValidateProvider(s.AI.Provider); err != nil {
		return err
	}
	if s.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}

	if !storageDrivers[s.Storage.Driver] {
		return fmt.Errorf("unsupported storage driver %q", s.Storage.Driver)
	}
	switch s.Storage.Driver {
	case "mysql", "postgres", "sqlite3":
		if s.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", s.Storage.Driver)
		}
	case "pebble":
		if s.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for pebble")
		}
	}

	_, port, err := net.SplitHostPort(s.Server.Addr)
	if err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", s.Server.Addr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid server port %q", port)
	}

	if s.Analysis.MaxFindings <= 0 || s.Analysis.MaxPromptChars <= 0 || s.Analysis.MaxStoredChars <= 0 {
		return fmt.Errorf("analysis limits must be positive")
	}
	if s.Analysis.PacingDelay < 0 {
		return fmt.Errorf("analysis.pacing_delay must not be negative")
	}
	return nil
}
