package parser

import "sort"

// GetExpectedJSONSchema 返回写进 system prompt 的 JSON 响应格式
func GetExpectedJSONSchema() string {
	return `{
  "findings": [
    {
      "severity": "Critical|High|Medium|Low|Info",
      "title": "Short title of the finding",
      "description": "Detailed description of the vulnerability or issue, referencing specific code patterns",
      "recommendation": "Specific fix recommendation with code example if applicable"
    }
  ],
  "score": 0-100,
  "summary": "Brief overall assessment of the contract's security posture"
}`
}

// SeverityLevel 定义严重性级别
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "Critical"
	SeverityHigh     SeverityLevel = "High"
	SeverityMedium   SeverityLevel = "Medium"
	SeverityLow      SeverityLevel = "Low"
	SeverityInfo     SeverityLevel = "Info"
)

// unknownSeverityRank 未知级别排在所有已知级别之后
const unknownSeverityRank = 5

var severityRanks = map[SeverityLevel]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Severities 按严重程度从高到低返回全部级别
func Severities() []SeverityLevel {
	return []SeverityLevel{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// GetSeverityRank 获取严重性排序值（越小越严重）
func GetSeverityRank(severity SeverityLevel) int {
	if rank, ok := severityRanks[severity]; ok {
		return rank
	}
	return unknownSeverityRank
}

// ParseSeverity 只接受五个规范名称（区分大小写），其余一律视为 Info
func ParseSeverity(raw string) SeverityLevel {
	if _, ok := severityRanks[SeverityLevel(raw)]; ok {
		return SeverityLevel(raw)
	}
	return SeverityInfo
}

// SortFindings 按严重性稳定排序，同级保持原有顺序
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return GetSeverityRank(findings[i].Severity) < GetSeverityRank(findings[j].Severity)
	})
}
