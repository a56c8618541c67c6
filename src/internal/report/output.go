package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Output 报告输出接口
type Output interface {
	Write(record *AuditRecord, content string) (string, error)
}

// FileOutput 把报告写入目录
type FileOutput struct {
	OutputDir string
}

// NewFileOutput 创建文件输出
func NewFileOutput(outputDir string) *FileOutput {
	return &FileOutput{
		OutputDir: outputDir,
	}
}

// Write 保存报告到文件，返回文件路径
func (o *FileOutput) Write(record *AuditRecord, content string) (string, error) {
	// 确保输出目录存在
	if err := os.MkdirAll(o.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := record.ID
	if name == "" {
		name = fmt.Sprintf("%d", time.Now().Unix())
	}
	path := filepath.Join(o.OutputDir, fmt.Sprintf("audit_report_%s.md", name))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}
