package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/excavator-audit/src/internal/download"
	"github.com/admi-n/excavator-audit/src/internal/handler"
	"github.com/admi-n/excavator-audit/src/internal/logging"
	"github.com/admi-n/excavator-audit/src/internal/report"
)

// SourceLookup 根据地址获取已验证的合约源码
type SourceLookup interface {
	GetContractSource(ctx context.Context, address string) (*download.ContractSource, error)
}

// Server 审计服务的 HTTP 入口
type Server struct {
	httpServer *http.Server
	cfg        Config

	analyzer *handler.Analyzer // nil 表示没有配置模型
	lookup   SourceLookup      // nil 表示没有配置 Etherscan
	store    report.Store
	payment  *PaymentGate // nil 表示不收费
	logger   *zap.SugaredLogger
}

// Config holds server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DefaultConfig returns a default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Deps 服务依赖
type Deps struct {
	Analyzer *handler.Analyzer
	Lookup   SourceLookup
	Store    report.Store
	Payment  *PaymentGate
	Logger   *zap.SugaredLogger
}

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	s := &Server{
		cfg:      cfg,
		analyzer: deps.Analyzer,
		lookup:   deps.Lookup,
		store:    deps.Store,
		payment:  deps.Payment,
		logger:   deps.Logger,
	}

	// 流式响应不设置 WriteTimeout
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.Handler(),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}

	return s
}

// Handler 返回注册好路由的 handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Start starts the HTTP server and blocks until context is cancelled
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Infow("服务启动", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		// 等待后台保存完成
		if s.analyzer != nil {
			s.analyzer.Wait()
		}
		s.logger.Info("服务已关闭")
		return nil
	case err := <-errChan:
		return err
	}
}

// registerRoutes registers all API endpoints
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	var analyze http.Handler = http.HandlerFunc(s.handleAnalyze)
	if s.payment != nil {
		analyze = s.payment.Middleware(analyze)
	}
	mux.Handle("POST /api/analyze", analyze)

	mux.HandleFunc("GET /api/etherscan", s.handleEtherscan)
	mux.HandleFunc("GET /api/audits/{id}", s.handleGetAudit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
