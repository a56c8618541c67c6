package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
)

// AuditSystemPrompt 固定的审计指令，要求模型只输出与解析器约定一致的 JSON
var AuditSystemPrompt = `You are an expert Solidity smart contract auditor. Analyze the provided smart contract for security vulnerabilities and code quality issues.

Check for:
- Reentrancy vulnerabilities
- Integer overflow/underflow
- Access control issues
- Front-running vulnerabilities
- Gas inefficiencies
- Logic errors
- ERC standard compliance
- Unchecked external calls
- Denial of service vectors
- Timestamp dependence

IMPORTANT: You must respond with ONLY valid JSON, no markdown, no code blocks, no extra text.

Respond with this exact JSON structure:
` + parser.GetExpectedJSONSchema() + `

Score guidelines:
- 90-100: No critical/high issues, minimal medium issues, well-written contract
- 70-89: No critical issues, few high/medium issues
- 50-69: Some high issues or multiple medium issues
- 30-49: Critical issues present
- 0-29: Multiple critical issues, contract is unsafe for deployment`

// DefaultAuditTemplate 用户 prompt 模板，{{.ContractCode}} 为截断后的合约代码
const DefaultAuditTemplate = "Analyze this Solidity smart contract:\n\n```solidity\n{{.ContractCode}}\n```"

// Builder 持有解析好的用户 prompt 模板
type Builder struct {
	tmpl *template.Template
}

// NewBuilder 解析模板内容；为空时使用默认模板
func NewBuilder(templateContent string) (*Builder, error) {
	if strings.TrimSpace(templateContent) == "" {
		templateContent = DefaultAuditTemplate
	}
	tmpl, err := template.New("audit").Option("missingkey=error").Parse(templateContent)
	if err != nil {
		return nil, fmt.Errorf("模板解析失败: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Build 渲染用户 prompt
func (b *Builder) Build(contractCode string) (string, error) {
	var result strings.Builder
	if err := b.tmpl.Execute(&result, map[string]string{"ContractCode": contractCode}); err != nil {
		return "", fmt.Errorf("模板执行失败: %w", err)
	}
	return result.String(), nil
}

var defaultBuilder = mustBuilder(DefaultAuditTemplate)

func mustBuilder(content string) *Builder {
	b, err := NewBuilder(content)
	if err != nil {
		panic(err)
	}
	return b
}

// BuildAuditPrompt 使用默认模板构建用户 prompt
func BuildAuditPrompt(contractCode string) string {
	prompt, err := defaultBuilder.Build(contractCode)
	if err != nil {
		// 默认模板只引用 ContractCode，不会失败
		return fmt.Sprintf("Analyze this Solidity smart contract:\n\n```solidity\n%s\n```", contractCode)
	}
	return prompt
}
