package prompts

import (
	"fmt"
	"os"
)

// LoadTemplate 从文件加载用户 prompt 模板；路径为空时返回默认模板
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultAuditTemplate, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load template %s: %w", path, err)
	}

	return string(content), nil
}

// LoadBuilder 加载模板文件并解析
func LoadBuilder(path string) (*Builder, error) {
	content, err := LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	return NewBuilder(content)
}

// LoadSystemPrompt 从文件加载 system prompt；路径为空时返回内置审计指令
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return AuditSystemPrompt, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load system prompt %s: %w", path, err)
	}

	return string(content), nil
}
