package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/handler"
	"github.com/admi-n/excavator-audit/src/internal/stream"
)

const (
	msgInvalidCode    = "Please provide valid Solidity code."
	msgInvalidRequest = "Invalid request."
	msgNoModel        = "AI provider not configured."
)

// analyzeBody 请求体；code 先按任意类型解码，非字符串视为无效代码
type analyzeBody struct {
	Code            any     `json:"code"`
	ContractAddress *string `json:"contractAddress"`
	Source          string  `json:"source"`
}

// handleAnalyze 校验请求后以 SSE 返回分析事件
// POST /api/analyze
// Request:  {"code":"...","contractAddress":"0x..."|null,"source":"paste"|"etherscan"}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var body analyzeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	code, ok := body.Code.(string)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}
	req := internal.AnalyzeRequest{Code: code, Source: internal.Source(body.Source)}
	if body.ContractAddress != nil {
		req.ContractAddress = *body.ContractAddress
	}

	req, err := s.validate(req)
	if err != nil {
		if errors.Is(err, handler.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, msgInvalidCode)
		} else {
			writeError(w, http.StatusBadRequest, msgInvalidRequest)
		}
		return
	}
	if s.analyzer == nil {
		writeError(w, http.StatusInternalServerError, msgNoModel)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// 模型返回前先把响应头发出去
	if err := http.NewResponseController(w).Flush(); err != nil {
		s.logger.Debugw("刷新响应头失败", "error", err)
	}

	if err := s.analyzer.Run(r.Context(), req, stream.NewWriter(w)); err != nil {
		s.logger.Debugw("分析流提前结束", "error", err)
	}
}

func (s *Server) validate(req internal.AnalyzeRequest) (internal.AnalyzeRequest, error) {
	if s.analyzer == nil {
		return handler.ValidateRequest(req, handler.DefaultOptions().MinCodeLength)
	}
	return s.analyzer.Validate(req)
}
