package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/admi-n/excavator-audit/src/config"
	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/ai"
	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
	"github.com/admi-n/excavator-audit/src/internal/download"
	"github.com/admi-n/excavator-audit/src/internal/handler"
	"github.com/admi-n/excavator-audit/src/internal/logging"
	"github.com/admi-n/excavator-audit/src/internal/report"
	"github.com/admi-n/excavator-audit/src/internal/server"
	"github.com/admi-n/excavator-audit/src/internal/stream"
	"github.com/admi-n/excavator-audit/src/strategy/prompts"
)

// loadRuntime 加载配置并创建 logger
func loadRuntime(cfg *CLIConfig) (*config.Settings, *zap.SugaredLogger, error) {
	settings, err := config.LoadSettings(cfg.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, nil, fmt.Errorf("配置无效: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	return settings, logger, nil
}

// ExecuteServe 启动 HTTP 服务，直到收到退出信号
func ExecuteServe(ctx context.Context, cfg *CLIConfig) error {
	settings, logger, err := loadRuntime(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 1. 存储
	store, closeStore, err := config.OpenStore(ctx, settings.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer closeStore()
	logger.Infow("存储已就绪", "driver", settings.Storage.Driver)

	// 2. 模型；未配置 API key 时服务仍然启动，分析接口返回 500
	var analyzer *handler.Analyzer
	if settings.AI.APIKey == "" && ai.RequiresAPIKey(settings.AI.Provider) {
		logger.Warnw("未配置模型 API key，分析接口不可用", "provider", settings.AI.Provider)
	} else {
		manager, err := ai.NewManager(ctx, ai.ManagerConfig{
			Provider:       settings.AI.Provider,
			APIKey:         settings.AI.APIKey,
			BaseURL:        settings.AI.BaseURL,
			Model:          settings.AI.Model,
			Timeout:        settings.AI.Timeout,
			Proxy:          settings.Proxy,
			MaxTokens:      settings.AI.MaxTokens,
			RequestsPerMin: settings.AI.RequestsPerMin,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("创建 AI 管理器失败: %w", err)
		}
		defer manager.Close()
		if cfg.CheckModel {
			if err := manager.TestConnection(ctx); err != nil {
				return err
			}
		}
		logger.Infow("模型已就绪", "client", manager.GetClientInfo())

		opts, err := analyzerOptions(settings)
		if err != nil {
			return err
		}
		analyzer = handler.NewAnalyzer(manager, store, opts, logger)
	}

	// 3. Etherscan
	var lookup server.SourceLookup
	if settings.Etherscan.APIKey != "" {
		l, err := download.NewLookup(ctx, download.LookupConfig{
			Etherscan: download.EtherscanConfig{
				APIKey:  settings.Etherscan.APIKey,
				BaseURL: settings.Etherscan.BaseURL,
				ChainID: settings.Etherscan.ChainID,
				Proxy:   settings.Proxy,
				Timeout: settings.Etherscan.Timeout,
			},
			RPCURL:         settings.Etherscan.RPCURL,
			RequestsPerSec: settings.Etherscan.RequestsPerSec,
		})
		if err != nil {
			return fmt.Errorf("创建 Etherscan 查询器失败: %w", err)
		}
		defer l.Close()
		lookup = l
	} else {
		logger.Warn("未配置 ETHERSCAN_API_KEY，地址查询不可用")
	}

	// 4. 支付
	var gate *server.PaymentGate
	if settings.Payment.Enabled {
		facilitatorClient, err := internal.CreateProxyHTTPClient(settings.Proxy, 10*time.Second)
		if err != nil {
			return fmt.Errorf("创建 facilitator 客户端失败: %w", err)
		}
		gate, err = server.NewPaymentGate(server.PaymentConfig{
			PayTo:          settings.Payment.PayTo,
			Price:          settings.Payment.Price,
			Network:        settings.Payment.Network,
			Asset:          settings.Payment.Asset,
			Description:    settings.Payment.Description,
			FacilitatorURL: settings.Payment.FacilitatorURL,
			HTTPClient:     facilitatorClient,
		})
		if err != nil {
			return fmt.Errorf("支付配置无效: %w", err)
		}
		logger.Infow("x402 支付校验已启用", "price", settings.Payment.Price, "network", settings.Payment.Network, "facilitator", settings.Payment.FacilitatorURL)
	}

	srv := server.New(server.Config{
		Addr:            settings.Server.Addr,
		ReadTimeout:     settings.Server.ReadTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: settings.Server.ShutdownTimeout,
		MaxBodyBytes:    settings.Server.MaxBodyBytes,
	}, server.Deps{
		Analyzer: analyzer,
		Lookup:   lookup,
		Store:    store,
		Payment:  gate,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("收到退出信号", "cause", context.Cause(gctx))
		return nil
	})
	return g.Wait()
}

func analyzerOptions(settings *config.Settings) (handler.Options, error) {
	builder, err := prompts.LoadBuilder(settings.AI.PromptFile)
	if err != nil {
		return handler.Options{}, fmt.Errorf("加载 prompt 模板失败: %w", err)
	}
	system, err := prompts.LoadSystemPrompt(settings.AI.SystemPromptFile)
	if err != nil {
		return handler.Options{}, err
	}

	return handler.Options{
		PacingDelay:    settings.Analysis.PacingDelay,
		MaxPromptChars: settings.Analysis.MaxPromptChars,
		MaxStoredChars: settings.Analysis.MaxStoredChars,
		MinCodeLength:  settings.Analysis.MinCodeLength,
		MaxFindings:    settings.Analysis.MaxFindings,
		PersistTimeout: settings.Analysis.PersistTimeout,
		SystemPrompt:   system,
		Prompt:         builder,
	}, nil
}

// analyzeJob 一次提交及其结果
type analyzeJob struct {
	name  string
	req   internal.AnalyzeRequest
	state stream.State
	err   error
}

// ExecuteAnalyze 并发提交合约到服务端，全部完成后按输入顺序输出报告
func ExecuteAnalyze(ctx context.Context, cfg *CLIConfig, files []string) error {
	client := stream.NewClient(cfg.Server, nil)
	client.PaymentHeader = cfg.Payment

	jobs, err := buildJobs(ctx, client, cfg, files)
	if err != nil {
		return err
	}

	live := len(jobs) == 1
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			jctx, cancel := context.WithTimeout(gctx, cfg.Timeout)
			defer cancel()

			var onUpdate func(stream.State)
			if live {
				onUpdate = progressPrinter(job.name)
			} else {
				fmt.Fprintf(os.Stderr, "🤖 正在分析 %s ...\n", job.name)
			}
			// 单个失败不影响其它合约
			job.state, job.err = client.Analyze(jctx, job.req, onUpdate)
			return nil
		})
	}
	_ = g.Wait()

	generator := report.NewMarkdownGenerator()
	generator.IncludeCode = cfg.IncludeCode
	var reporter *report.Reporter
	if cfg.OutDir != "" {
		reporter = report.NewReporter(generator, report.NewFileOutput(cfg.OutDir))
	}

	failed := 0
	for _, job := range jobs {
		if err := jobError(job); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", job.name, err)
			continue
		}

		record := stateToRecord(job.state, job.req)
		if reporter != nil {
			path, err := reporter.GenerateAndSave(record)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "❌ %s: %v\n", job.name, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "✅ %s -> %s\n", job.name, path)
			continue
		}

		content, err := generator.Generate(record)
		if err != nil {
			return err
		}
		fmt.Println(content)
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d 个合约分析失败", failed, len(jobs))
	}
	return nil
}

func buildJobs(ctx context.Context, client *stream.Client, cfg *CLIConfig, files []string) ([]*analyzeJob, error) {
	if cfg.Address != "" {
		fmt.Fprintf(os.Stderr, "🔗 正在获取 %s 的源码...\n", cfg.Address)
		src, err := client.FetchSource(ctx, cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("获取合约源码失败: %w", err)
		}
		name := src.ContractName
		if name == "" {
			name = cfg.Address
		}
		return []*analyzeJob{{
			name: name,
			req: internal.AnalyzeRequest{
				Code:            src.SourceCode,
				ContractAddress: cfg.Address,
				Source:          internal.SourceEtherscan,
			},
		}}, nil
	}

	jobs := make([]*analyzeJob, 0, len(files))
	for _, path := range files {
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取合约文件失败: %w", err)
		}
		jobs = append(jobs, &analyzeJob{
			name: path,
			req:  internal.AnalyzeRequest{Code: string(code), Source: internal.SourcePaste},
		})
	}
	return jobs, nil
}

func jobError(job *analyzeJob) error {
	switch {
	case job.err != nil:
		return job.err
	case job.state.Aborted:
		return fmt.Errorf("已取消")
	case job.state.Error != "":
		return fmt.Errorf("%s", job.state.Error)
	case job.state.Score == nil:
		return fmt.Errorf("服务端没有返回评分")
	}
	return nil
}

// progressPrinter 单个合约时实时打印新到达的 finding。
// finding 到达后会按严重性重新排序，因此按内容而不是位置判断哪些是新的。
func progressPrinter(name string) func(stream.State) {
	seen := make(map[string]int)
	header := false
	return func(st stream.State) {
		counts := make(map[string]int, len(st.Findings))
		for _, f := range st.Findings {
			key := findingKey(f)
			counts[key]++
			if counts[key] <= seen[key] {
				continue
			}
			seen[key] = counts[key]
			if !header {
				fmt.Fprintf(os.Stderr, "🤖 %s:\n", name)
				header = true
			}
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", f.Severity, f.Title)
		}
	}
}

func findingKey(f parser.Finding) string {
	return string(f.Severity) + "|" + f.Title + "|" + f.Line
}

// stateToRecord 把流式结果转换为审计记录，便于复用报告生成器
func stateToRecord(st stream.State, req internal.AnalyzeRequest) *report.AuditRecord {
	rec := &report.AuditRecord{
		ID:              st.ID,
		CreatedAt:       time.Now().UTC(),
		ContractCode:    req.Code,
		ContractAddress: req.ContractAddress,
		Findings:        st.Findings,
		Summary:         st.Summary,
		Source:          req.Source,
	}
	if st.Score != nil {
		rec.Score = *st.Score
	}
	return rec
}

// ExecuteLookup 通过 Etherscan 获取源码并输出到 stdout
func ExecuteLookup(ctx context.Context, cfg *CLIConfig, address string) error {
	settings, logger, err := loadRuntime(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lookup, err := download.NewLookup(ctx, download.LookupConfig{
		Etherscan: download.EtherscanConfig{
			APIKey:  settings.Etherscan.APIKey,
			BaseURL: settings.Etherscan.BaseURL,
			ChainID: settings.Etherscan.ChainID,
			Proxy:   settings.Proxy,
			Timeout: settings.Etherscan.Timeout,
		},
		RPCURL:         settings.Etherscan.RPCURL,
		RequestsPerSec: settings.Etherscan.RequestsPerSec,
	})
	if err != nil {
		return err
	}
	defer lookup.Close()

	src, err := lookup.GetContractSource(ctx, strings.TrimSpace(address))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "📄 %s (%s)\n", src.ContractName, src.Compiler)
	fmt.Println(src.SourceCode)
	return nil
}

// ExecuteShow 从存储读取审计记录并输出 Markdown 报告
func ExecuteShow(ctx context.Context, cfg *CLIConfig, id string) error {
	settings, logger, err := loadRuntime(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, closeStore, err := config.OpenStore(ctx, settings.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer closeStore()

	record, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	generator := report.NewMarkdownGenerator()
	generator.IncludeCode = cfg.IncludeCode

	if cfg.OutDir != "" {
		path, err := report.NewReporter(generator, report.NewFileOutput(cfg.OutDir)).GenerateAndSave(record)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✅ 报告已保存到 %s\n", path)
		return nil
	}

	content, err := generator.Generate(record)
	if err != nil {
		return err
	}
	fmt.Println(content)
	return nil
}
