package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New 创建 SugaredLogger：debug 时使用开发配置，否则生产配置 + info 级别
func New(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Encoding = "console"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("初始化 logger 失败: %w", err)
	}
	return logger.Sugar(), nil
}

// Nop 返回丢弃所有输出的 logger
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
