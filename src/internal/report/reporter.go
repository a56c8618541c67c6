package report

import (
	"fmt"
)

// Reporter 报告器，整合生成器和输出
type Reporter struct {
	generator Generator
	output    Output
}

// NewReporter 创建报告器
func NewReporter(generator Generator, output Output) *Reporter {
	return &Reporter{
		generator: generator,
		output:    output,
	}
}

// GenerateAndSave 生成并保存报告，返回文件路径
func (r *Reporter) GenerateAndSave(record *AuditRecord) (string, error) {
	content, err := r.generator.Generate(record)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	path, err := r.output.Write(record, content)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return path, nil
}
