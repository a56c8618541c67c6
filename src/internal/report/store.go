package report

import (
	"context"
	"errors"
	"time"

	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
)

var (
	// ErrNotFound 指定 id 的审计记录不存在
	ErrNotFound = errors.New("audit not found")
	// ErrExists 记录只写一次，重复 id 被拒绝
	ErrExists = errors.New("audit already exists")
)

// AuditRecord 一次成功分析的持久化结果，写入后不再修改
type AuditRecord struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	ContractCode    string           `json:"contract_code"`
	ContractAddress string           `json:"contract_address,omitempty"`
	Score           int              `json:"score"`
	Findings        []parser.Finding `json:"findings"`
	Summary         string           `json:"summary"`
	Source          internal.Source  `json:"source"`
}

// Store 审计记录存储，只支持按 id 写入和读取
type Store interface {
	// Save 写入新记录，CreatedAt 为零值时由存储填充
	Save(ctx context.Context, record *AuditRecord) error
	Get(ctx context.Context, id string) (*AuditRecord, error)
}

// stamp 填充创建时间并返回副本，避免修改调用方的记录
func stamp(record *AuditRecord) AuditRecord {
	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Findings = cloneFindings(rec.Findings)
	if rec.Source == "" {
		rec.Source = internal.SourcePaste
	}
	return rec
}

func cloneFindings(findings []parser.Finding) []parser.Finding {
	out := make([]parser.Finding, len(findings))
	copy(out, findings)
	return out
}
