package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse 模型输出无法恢复为结构化数据
var ErrParse = errors.New("failed to parse AI response as JSON")

const (
	// DefaultMaxFindings 单次分析最多保留的 finding 数量
	DefaultMaxFindings = 50

	unnamedFindingTitle = "Unnamed Finding"
	maxScore            = 100
)

// Finding 单个安全问题
type Finding struct {
	Severity       SeverityLevel `json:"severity"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Recommendation string        `json:"recommendation"`
	Line           string        `json:"line,omitempty"`
}

// AnalysisResult 规范化后的分析结果
type AnalysisResult struct {
	Findings []Finding `json:"findings"`
	Score    int       `json:"score"`
	Summary  string    `json:"summary"`
}

// Parser 解析 AI 返回的分析结果
type Parser struct {
	fenceLine   *regexp.Regexp
	fenceOpen   *regexp.Regexp
	maxFindings int
}

// NewParser 创建新的解析器，maxFindings <= 0 时使用默认上限
func NewParser(maxFindings int) *Parser {
	if maxFindings <= 0 {
		maxFindings = DefaultMaxFindings
	}

	return &Parser{
		// 独占一行的代码块标记，例如 ```json / ```solidity / ```
		fenceLine: regexp.MustCompile("(?m)^[ \\t]*```[A-Za-z0-9_+.-]*[ \\t]*$"),
		// 与内容同行的开头标记
		fenceOpen:   regexp.MustCompile("^```[A-Za-z0-9_+.-]*"),
		maxFindings: maxFindings,
	}
}

var defaultParser = NewParser(DefaultMaxFindings)

// Normalize 使用默认解析器解析模型输出
func Normalize(response string) (*AnalysisResult, error) {
	return defaultParser.Parse(response)
}

// Parse 解析 AI 响应文本。先尝试去掉代码块标记后直接解析，
// 失败后再从原文中截取第一个 { 到最后一个 } 之间的内容。
func (p *Parser) Parse(response string) (*AnalysisResult, error) {
	raw, err := decodeObject(p.cleanResponse(response))
	if err == nil {
		return p.normalize(raw), nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	raw, err = decodeObject(response[start : end+1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return p.normalize(raw), nil
}

// cleanResponse 移除代码块标记并去掉首尾空白
func (p *Parser) cleanResponse(response string) string {
	cleaned := p.fenceLine.ReplaceAllString(response, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = p.fenceOpen.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// decodeObject 数字保留为 json.Number，超出 float64 范围的值不会导致解码失败
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	if raw == nil {
		return nil, errors.New("response is JSON null")
	}
	return raw, nil
}

// numberValue 溢出时得到 ±Inf
func numberValue(n json.Number) float64 {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalize 把任意形状的 JSON 对象映射为满足约束的结果，不会因缺字段而失败
func (p *Parser) normalize(raw map[string]any) *AnalysisResult {
	result := &AnalysisResult{
		Findings: make([]Finding, 0),
		Score:    normalizeScore(raw["score"]),
		Summary:  stringOr(raw["summary"], ""),
	}

	items, _ := raw["findings"].([]any)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		result.Findings = append(result.Findings, normalizeFinding(obj))
	}

	SortFindings(result.Findings)
	if len(result.Findings) > p.maxFindings {
		result.Findings = result.Findings[:p.maxFindings]
	}

	return result
}

func normalizeFinding(obj map[string]any) Finding {
	severity, _ := obj["severity"].(string)

	f := Finding{
		Severity:       ParseSeverity(severity),
		Title:          stringOr(obj["title"], unnamedFindingTitle),
		Description:    stringOr(obj["description"], ""),
		Recommendation: stringOr(obj["recommendation"], ""),
	}
	if truthy(obj["line"]) {
		f.Line = toString(obj["line"])
	}
	return f
}

// normalizeScore 非数字或缺失视为 0，四舍五入后限制在 [0,100]
func normalizeScore(v any) int {
	var score float64
	switch s := v.(type) {
	case json.Number:
		score = numberValue(s)
	case float64:
		score = s
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		score = parsed
	case bool:
		if s {
			score = 1
		}
	default:
		return 0
	}

	if math.IsNaN(score) {
		return 0
	}
	score = math.Floor(score + 0.5)
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return int(score)
}

// stringOr 值为空（nil、""、0、false）时返回 fallback
func stringOr(v any, fallback string) string {
	if !truthy(v) {
		return fallback
	}
	return toString(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case json.Number:
		f := numberValue(t)
		return f != 0 && !math.IsNaN(f)
	case float64:
		return t != 0 && !math.IsNaN(t)
	case bool:
		return t
	default:
		return true
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return formatFloat(numberValue(t))
	case float64:
		return formatFloat(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = toString(e)
		}
		return strings.Join(parts, ",")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
