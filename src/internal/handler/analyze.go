package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
	"github.com/admi-n/excavator-audit/src/internal/download"
	"github.com/admi-n/excavator-audit/src/internal/logging"
	"github.com/admi-n/excavator-audit/src/internal/report"
	"github.com/admi-n/excavator-audit/src/internal/stream"
	"github.com/admi-n/excavator-audit/src/strategy/prompts"
)

var (
	// ErrValidation 请求在进入流程前被拒绝，此时没有写出任何内容
	ErrValidation = errors.New("invalid analyze request")
	// ErrInvalidCode 代码为空或过短
	ErrInvalidCode = fmt.Errorf("%w: code is missing or too short", ErrValidation)
)

const (
	// 模型调用失败且没有错误信息时使用
	analysisFailedMessage = "Analysis failed"
	parseFailedMessage    = "Failed to parse audit results. Please try again."

	idLength = 12
)

// Model 接收 system prompt 与用户 prompt，返回模型原始文本
type Model interface {
	Analyze(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Options 分析流程参数
type Options struct {
	PacingDelay    time.Duration // finding 事件之间的间隔，0 表示不等待
	MaxPromptChars int           // 发给模型的代码最大字符数
	MaxStoredChars int           // 持久化的代码最大字符数
	MinCodeLength  int
	MaxFindings    int
	PersistTimeout time.Duration
	SystemPrompt   string
	Prompt         *prompts.Builder
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		PacingDelay:    150 * time.Millisecond,
		MaxPromptChars: 30000,
		MaxStoredChars: 50000,
		MinCodeLength:  10,
		MaxFindings:    parser.DefaultMaxFindings,
		PersistTimeout: 10 * time.Second,
	}
}

// Analyzer 执行一次完整的分析：调用模型、规范化结果、按顺序写出事件、保存记录
type Analyzer struct {
	model  Model
	store  report.Store
	parser *parser.Parser
	opts   Options
	logger *zap.SugaredLogger
	newID  func() (string, error)
	wg     sync.WaitGroup
}

// NewAnalyzer 创建分析器；store 为 nil 时不持久化
func NewAnalyzer(model Model, store report.Store, opts Options, logger *zap.SugaredLogger) *Analyzer {
	def := DefaultOptions()
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = def.MaxPromptChars
	}
	if opts.MaxStoredChars <= 0 {
		opts.MaxStoredChars = def.MaxStoredChars
	}
	if opts.MinCodeLength <= 0 {
		opts.MinCodeLength = def.MinCodeLength
	}
	if opts.MaxFindings <= 0 {
		opts.MaxFindings = def.MaxFindings
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = def.PersistTimeout
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompts.AuditSystemPrompt
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Analyzer{
		model:  model,
		store:  store,
		parser: parser.NewParser(opts.MaxFindings),
		opts:   opts,
		logger: logger,
		newID:  func() (string, error) { return gonanoid.New(idLength) },
	}
}

// ValidateRequest 检查请求并补全默认来源
func ValidateRequest(req internal.AnalyzeRequest, minCodeLength int) (internal.AnalyzeRequest, error) {
	if len([]rune(strings.TrimSpace(req.Code))) < minCodeLength {
		return req, ErrInvalidCode
	}
	if req.Source == "" {
		req.Source = internal.SourcePaste
	}
	if !req.Source.Valid() {
		return req, fmt.Errorf("%w: unsupported source %q", ErrValidation, req.Source)
	}
	req.ContractAddress = strings.TrimSpace(req.ContractAddress)
	if req.ContractAddress != "" && !download.ValidAddress(req.ContractAddress) {
		return req, fmt.Errorf("%w: invalid contract address %q", ErrValidation, req.ContractAddress)
	}
	return req, nil
}

// Validate 使用当前配置校验请求
func (a *Analyzer) Validate(req internal.AnalyzeRequest) (internal.AnalyzeRequest, error) {
	return ValidateRequest(req, a.opts.MinCodeLength)
}

// Run 执行分析并把事件写入 w。校验失败时返回 ErrValidation 且不写任何内容；
// 之后的模型或解析失败以 error 事件在流内报告，w 总会以终止单元结束。
func (a *Analyzer) Run(ctx context.Context, req internal.AnalyzeRequest, w *stream.Writer) error {
	req, err := a.Validate(req)
	if err != nil {
		return err
	}

	defer w.Close()

	id, err := a.newID()
	if err != nil {
		a.logger.Warnw("生成审计 ID 失败", "error", err)
		return w.SendError(analysisFailedMessage, analysisFailedMessage)
	}

	log := a.logger.With("audit_id", id)

	prompt, err := a.buildPrompt(truncate(req.Code, a.opts.MaxPromptChars))
	if err != nil {
		return w.SendError(err.Error(), analysisFailedMessage)
	}

	start := time.Now()
	raw, err := a.model.Analyze(ctx, a.opts.SystemPrompt, prompt)
	if err != nil {
		log.Warnw("模型调用失败", "error", err)
		return w.SendError(err.Error(), analysisFailedMessage)
	}

	result, err := a.parser.Parse(raw)
	if err != nil {
		log.Warnw("解析模型输出失败", "error", err, "response_chars", len(raw))
		return w.SendError(parseFailedMessage, parseFailedMessage)
	}
	log.Infow("分析完成", "findings", len(result.Findings), "score", result.Score, "duration", time.Since(start))

	for i, finding := range result.Findings {
		if i > 0 {
			if err := sleepCtx(ctx, a.opts.PacingDelay); err != nil {
				return err
			}
		}
		if err := w.Send(stream.EventFinding, finding); err != nil {
			return err
		}
	}
	if err := w.Send(stream.EventScore, result.Score); err != nil {
		return err
	}
	if err := w.Send(stream.EventSummary, result.Summary); err != nil {
		return err
	}

	a.persist(&report.AuditRecord{
		ID:              id,
		ContractCode:    truncate(req.Code, a.opts.MaxStoredChars),
		ContractAddress: req.ContractAddress,
		Score:           result.Score,
		Findings:        result.Findings,
		Summary:         result.Summary,
		Source:          req.Source,
	})

	return w.Send(stream.EventID, id)
}

// Wait 等待所有后台保存完成
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

func (a *Analyzer) buildPrompt(code string) (string, error) {
	if a.opts.Prompt == nil {
		return prompts.BuildAuditPrompt(code), nil
	}
	return a.opts.Prompt.Build(code)
}

// persist 在后台保存记录，失败只记录日志，不影响 id 事件
func (a *Analyzer) persist(record *report.AuditRecord) {
	if a.store == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.PersistTimeout)
		defer cancel()

		if err := a.store.Save(ctx, record); err != nil {
			a.logger.Warnw("保存审计记录失败", "audit_id", record.ID, "error", err)
			return
		}
		a.logger.Debugw("审计记录已保存", "audit_id", record.ID)
	}()
}

// truncate 按字符截断
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
