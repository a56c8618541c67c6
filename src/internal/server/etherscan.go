package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/admi-n/excavator-audit/src/internal/download"
)

const (
	msgInvalidAddress   = "Invalid Ethereum address."
	msgNoEtherscanKey   = "Etherscan API key not configured."
	msgSourceNotFound   = "Contract source code not found. Make sure the contract is verified on Etherscan."
	msgEtherscanFailure = "Failed to fetch from Etherscan."
)

// handleEtherscan 返回已验证合约的源码
// GET /api/etherscan?address=0x...
// Response: {"sourceCode":"...","contractName":"...","compiler":"..."}
func (s *Server) handleEtherscan(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if !download.ValidAddress(address) {
		writeError(w, http.StatusBadRequest, msgInvalidAddress)
		return
	}
	if s.lookup == nil {
		writeError(w, http.StatusInternalServerError, msgNoEtherscanKey)
		return
	}

	src, err := s.lookup.GetContractSource(r.Context(), address)
	if err != nil {
		switch {
		case errors.Is(err, download.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, msgInvalidAddress)
		case errors.Is(err, download.ErrMissingAPIKey):
			writeError(w, http.StatusInternalServerError, msgNoEtherscanKey)
		case errors.Is(err, download.ErrNotVerified), errors.Is(err, download.ErrNoContractCode):
			writeError(w, http.StatusNotFound, msgSourceNotFound)
		default:
			s.logger.Warnw("Etherscan 查询失败", "address", address, "error", err)
			writeError(w, http.StatusInternalServerError, msgEtherscanFailure)
		}
		return
	}

	writeJSON(w, http.StatusOK, src)
}
