package server

import (
	"errors"
	"net/http"

	"github.com/admi-n/excavator-audit/src/internal/report"
)

const msgAuditNotFound = "Audit not found."

// handleGetAudit 按 id 返回审计记录
// GET /api/audits/{id}
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.store == nil || id == "" {
		writeError(w, http.StatusNotFound, msgAuditNotFound)
		return
	}

	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgAuditNotFound)
			return
		}
		s.logger.Warnw("读取审计记录失败", "audit_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load audit.")
		return
	}

	writeJSON(w, http.StatusOK, record)
}
