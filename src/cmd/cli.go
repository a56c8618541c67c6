package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/admi-n/excavator-audit/src/internal/download"
)

// CLIConfig 保存解析好的 CLI 选项
type CLIConfig struct {
	ConfigPath string // 配置文件路径
	Debug      bool

	// serve 相关
	CheckModel bool // 启动前发送一次测试请求

	// analyze 相关
	Server      string // 分析服务地址，例如 http://localhost:8080
	Address     string // 通过 Etherscan 获取源码的合约地址
	Concurrency int
	Timeout     time.Duration
	Payment     string // X-PAYMENT 请求头
	OutDir      string // 非空时把报告写入该目录
	IncludeCode bool
}

// Validate 检查 analyze 命令的必需/一致性输入。
func (c *CLIConfig) Validate(files []string) error {
	if len(files) == 0 && c.Address == "" {
		return errors.New("provide at least one contract file or --address")
	}
	if len(files) > 0 && c.Address != "" {
		return errors.New("contract files and --address are mutually exclusive")
	}
	if c.Address != "" && !download.ValidAddress(c.Address) {
		return fmt.Errorf("invalid contract address: %s", c.Address)
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("--server must be an http(s) URL, got %q", c.Server)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return nil
}

func newRootCmd() *cobra.Command {
	cfg := &CLIConfig{}

	root := &cobra.Command{
		Use:           "excavator-audit",
		Short:         "Excavator - 基于 LLM 的 Solidity 合约流式审计服务",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.ConfigPath, "config", "", "配置文件路径 (默认 config/settings.yaml)")
	root.PersistentFlags().BoolVar(&cfg.Debug, "debug", false, "输出调试日志")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 审计服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteServe(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().BoolVar(&cfg.CheckModel, "check-model", false, "启动前测试模型连接，失败则退出")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [合约文件...]",
		Short: "提交合约到审计服务并实时显示结果",
		Example: "  excavator-audit analyze Vault.sol Token.sol --concurrency 2\n" +
			"  excavator-audit analyze --address 0xdAC17F958D2ee523a2206206994597C13D831ec7",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(args); err != nil {
				return err
			}
			return ExecuteAnalyze(cmd.Context(), cfg, args)
		},
	}
	analyzeCmd.Flags().StringVar(&cfg.Server, "server", "http://localhost:8080", "分析服务地址")
	analyzeCmd.Flags().StringVar(&cfg.Address, "address", "", "从 Etherscan 获取源码的合约地址")
	analyzeCmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "并发提交的数量")
	analyzeCmd.Flags().DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "单个合约的超时时间")
	analyzeCmd.Flags().StringVar(&cfg.Payment, "payment", os.Getenv("X402_PAYMENT"), "X-PAYMENT 请求头")
	analyzeCmd.Flags().StringVar(&cfg.OutDir, "out", "", "把 Markdown 报告写入该目录")
	analyzeCmd.Flags().BoolVar(&cfg.IncludeCode, "include-code", false, "报告中附上合约源码")

	lookupCmd := &cobra.Command{
		Use:   "lookup <address>",
		Short: "通过 Etherscan 获取已验证合约的源码",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteLookup(cmd.Context(), cfg, args[0])
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "从存储中读取审计记录并输出 Markdown 报告",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteShow(cmd.Context(), cfg, args[0])
		},
	}
	showCmd.Flags().StringVar(&cfg.OutDir, "out", "", "把 Markdown 报告写入该目录")
	showCmd.Flags().BoolVar(&cfg.IncludeCode, "include-code", false, "报告中附上合约源码")

	root.AddCommand(serveCmd, analyzeCmd, lookupCmd, showCmd)
	return root
}

// Run 解析命令行并执行，收到 SIGINT/SIGTERM 时取消 context
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

// PrintFatal 将错误打印到 stderr 并以非零代码退出。
func PrintFatal(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
