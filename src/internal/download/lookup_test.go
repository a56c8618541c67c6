package download

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testAddress = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

type fakeRPC struct {
	code []byte
	err  error
}

func (f *fakeRPC) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, f.err
}

func (f *fakeRPC) Close() {}

func newEtherscanServer(t *testing.T, status int, payload any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v2/api" || q.Get("module") != "contract" || q.Get("action") != "getsourcecode" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		if q.Get("chainid") != "1" || q.Get("apikey") != "test-key" || q.Get("address") != testAddress {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLookup(t *testing.T, baseURL string) *Lookup {
	t.Helper()
	l, err := NewLookup(context.Background(), LookupConfig{
		Etherscan:      EtherscanConfig{APIKey: "test-key", BaseURL: baseURL + "/v2"},
		RequestsPerSec: 1000,
	})
	if err != nil {
		t.Fatalf("NewLookup() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func okPayload(source string) map[string]any {
	return map[string]any{
		"status":  "1",
		"message": "OK",
		"result": []map[string]string{{
			"SourceCode":      source,
			"ContractName":    "Token",
			"CompilerVersion": "v0.8.20+commit.a1b79de6",
		}},
	}
}

func TestGetContractSource_SingleFile(t *testing.T) {
	srv := newEtherscanServer(t, http.StatusOK, okPayload("pragma solidity ^0.8.0; contract Token {}"))
	l := newTestLookup(t, srv.URL)

	src, err := l.GetContractSource(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetContractSource() error = %v", err)
	}
	if src.SourceCode != "pragma solidity ^0.8.0; contract Token {}" {
		t.Errorf("unexpected source %q", src.SourceCode)
	}
	if src.ContractName != "Token" || src.Compiler != "v0.8.20+commit.a1b79de6" {
		t.Errorf("unexpected metadata %+v", src)
	}
}

func TestGetContractSource_MultiFileKeepsOrder(t *testing.T) {
	envelope := `{{"language":"Solidity","sources":{"contracts/Z.sol":{"content":"contract Z {}"},"contracts/A.sol":{"content":"contract A {}"},"contracts/M.sol":{"content":"contract M {}"}},"settings":{"optimizer":{"enabled":true}}}}`
	srv := newEtherscanServer(t, http.StatusOK, okPayload(envelope))
	l := newTestLookup(t, srv.URL)

	src, err := l.GetContractSource(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetContractSource() error = %v", err)
	}
	want := "contract Z {}\n\ncontract A {}\n\ncontract M {}"
	if src.SourceCode != want {
		t.Errorf("SourceCode = %q, want %q", src.SourceCode, want)
	}
}

func TestGetContractSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload any
		want    error
	}{
		{
			name:    "not verified status",
			status:  http.StatusOK,
			payload: map[string]any{"status": "0", "message": "NOTOK", "result": "Invalid API Key"},
			want:    ErrNotVerified,
		},
		{
			name:    "empty source",
			status:  http.StatusOK,
			payload: okPayload(""),
			want:    ErrNotVerified,
		},
		{
			name:    "empty result",
			status:  http.StatusOK,
			payload: map[string]any{"status": "1", "message": "OK", "result": []any{}},
			want:    ErrNotVerified,
		},
		{
			name:    "upstream error",
			status:  http.StatusBadGateway,
			payload: map[string]any{"error": "bad gateway"},
			want:    ErrUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newEtherscanServer(t, tt.status, tt.payload)
			l := newTestLookup(t, srv.URL)

			_, err := l.GetContractSource(context.Background(), testAddress)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetContractSource_Precondition(t *testing.T) {
	l := newTestLookup(t, "http://127.0.0.1:1")

	for _, addr := range []string{"", "0x123", "1f9840a85d5aF5bf1D1762F925BDADdC4201F984", "0xZZ9840a85d5aF5bf1D1762F925BDADdC4201F984"} {
		if _, err := l.GetContractSource(context.Background(), addr); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("address %q: expected ErrInvalidAddress, got %v", addr, err)
		}
	}

	l.etherscan.APIKey = ""
	if _, err := l.GetContractSource(context.Background(), testAddress); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGetContractSource_NoContractCode(t *testing.T) {
	l := newTestLookup(t, "http://127.0.0.1:1")
	l.rpc = &fakeRPC{code: nil}

	if _, err := l.GetContractSource(context.Background(), testAddress); !errors.Is(err, ErrNoContractCode) {
		t.Fatalf("expected ErrNoContractCode, got %v", err)
	}
}

func TestUnwrapSources(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain source", "contract A {}", "contract A {}"},
		{"broken envelope", `{{"sources": {"a.sol": }}`, `{{"sources": {"a.sol": }}`},
		{"no sources", `{{"language":"Solidity"}}`, `{{"language":"Solidity"}}`},
		{"single file", `{{"sources":{"a.sol":{"content":"contract A {}"}}}}`, "contract A {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnwrapSources(tt.input); got != tt.want {
				t.Errorf("UnwrapSources() = %q, want %q", got, tt.want)
			}
		})
	}
}
