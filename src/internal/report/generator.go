package report

import (
	"fmt"
	"strings"

	"github.com/admi-n/excavator-audit/src/internal/report/renderers"
)

// Generator 报告生成器接口
type Generator interface {
	Generate(record *AuditRecord) (string, error)
}

// MarkdownGenerator markdown格式报告生成器
type MarkdownGenerator struct {
	renderer    *renderers.MarkdownRenderer
	IncludeCode bool // 是否在报告末尾附上合约源码
}

// NewMarkdownGenerator 创建markdown报告生成器
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{renderer: renderers.NewMarkdownRenderer()}
}

// Generate 生成markdown格式报告
func (g *MarkdownGenerator) Generate(record *AuditRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("audit record is nil")
	}

	var b strings.Builder

	// 报告头部
	b.WriteString("# 合约安全审计报告\n\n")
	if record.ID != "" {
		fmt.Fprintf(&b, "**审计 ID**: %s\n", record.ID)
	}
	if !record.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "**审计时间**: %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if record.ContractAddress != "" {
		fmt.Fprintf(&b, "**合约地址**: %s\n", record.ContractAddress)
	}
	if record.Source != "" {
		fmt.Fprintf(&b, "**来源**: %s\n", record.Source)
	}
	fmt.Fprintf(&b, "**安全评分**: %s\n\n", g.renderer.RenderScore(record.Score))

	if record.Summary != "" {
		b.WriteString("## 摘要\n\n")
		b.WriteString(record.Summary)
		b.WriteString("\n\n")
	}

	if dist := g.renderer.RenderDistribution(record.Findings); dist != "" {
		b.WriteString("## 严重性分布\n\n")
		b.WriteString(dist)
		b.WriteString("\n")
	}

	b.WriteString("## 问题详情\n\n")
	b.WriteString(g.renderer.RenderFindings(record.Findings))

	if g.IncludeCode && record.ContractCode != "" {
		b.WriteString("\n## 合约源码\n\n")
		fmt.Fprintf(&b, "```solidity\n%s\n```\n", record.ContractCode)
	}

	return b.String(), nil
}
