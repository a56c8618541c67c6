package renderers

import (
	"fmt"
	"strings"

	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
)

// MarkdownRenderer markdown渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建markdown渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// RenderFinding 渲染单个问题，index 从 1 开始
func (r *MarkdownRenderer) RenderFinding(index int, f parser.Finding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d. %s **[%s]** %s", index, getSeverityIcon(f.Severity), f.Severity, f.Title)
	if f.Line != "" {
		fmt.Fprintf(&b, " (第 %s 行)", f.Line)
	}
	b.WriteString("\n")
	if f.Description != "" {
		fmt.Fprintf(&b, "   **描述**: %s\n", f.Description)
	}
	if f.Recommendation != "" {
		fmt.Fprintf(&b, "   **建议**: %s\n", f.Recommendation)
	}
	return b.String()
}

// RenderFindings 渲染问题列表
func (r *MarkdownRenderer) RenderFindings(findings []parser.Finding) string {
	if len(findings) == 0 {
		return "未发现问题。\n"
	}
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = r.RenderFinding(i+1, f)
	}
	return strings.Join(parts, "\n")
}

// RenderDistribution 按严重程度顺序输出计数，数量为 0 的级别省略
func (r *MarkdownRenderer) RenderDistribution(findings []parser.Finding) string {
	counts := make(map[parser.SeverityLevel]int)
	for _, f := range findings {
		counts[f.Severity]++
	}

	var b strings.Builder
	for _, s := range parser.Severities() {
		if counts[s] == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s **%s**: %d\n", getSeverityIcon(s), s, counts[s])
	}
	return b.String()
}

// RenderScore 渲染评分及对应等级
func (r *MarkdownRenderer) RenderScore(score int) string {
	return fmt.Sprintf("%d/100（%s）", score, ScoreGrade(score))
}

// ScoreGrade 评分区间说明
func ScoreGrade(score int) string {
	switch {
	case score >= 90:
		return "编写良好，无严重问题"
	case score >= 70:
		return "无 Critical 问题，少量 High/Medium"
	case score >= 50:
		return "存在 High 或多个 Medium 问题"
	case score >= 30:
		return "存在 Critical 问题"
	default:
		return "多个 Critical 问题，不建议部署"
	}
}

// getSeverityIcon 获取严重等级对应的图标
func getSeverityIcon(severity parser.SeverityLevel) string {
	switch severity {
	case parser.SeverityCritical:
		return "🔴"
	case parser.SeverityHigh:
		return "🟠"
	case parser.SeverityMedium:
		return "🟡"
	case parser.SeverityLow:
		return "🟢"
	default:
		return "⚪"
	}
}
