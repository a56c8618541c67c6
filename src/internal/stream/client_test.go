package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/admi-n/excavator-audit/src/internal"
)

func TestClient_Analyze(t *testing.T) {
	payload := successStream(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-PAYMENT") != "signed-payload" {
			t.Errorf("payment header not forwarded")
		}
		var req internal.AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source != internal.SourcePaste {
			t.Errorf("unexpected body %+v (%v)", req, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	c.PaymentHeader = "signed-payload"

	updates := 0
	st, err := c.Analyze(context.Background(), internal.AnalyzeRequest{
		Code:   "contract A { function f() public {} }",
		Source: internal.SourcePaste,
	}, func(State) { updates++ })
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	checkSuccessState(t, st)
	if updates != 5 {
		t.Errorf("expected 5 updates, got %d", updates)
	}
}

func TestClient_AnalyzeRejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "validation",
			status: http.StatusBadRequest,
			body:   `{"error":"Please provide valid Solidity code."}`,
			check: func(err error) bool {
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.StatusCode == 400 && apiErr.Message == "Please provide valid Solidity code."
			},
		},
		{
			name:   "payment",
			status: http.StatusPaymentRequired,
			body:   `{"x402Version":1,"error":"X-PAYMENT header is required","accepts":[{"network":"base","maxAmountRequired":"500000","payTo":"0x0000000000000000000000000000000000000000","description":"AI Contract Audit"}]}`,
			check:  func(err error) bool { return errors.Is(err, ErrPaymentRequired) },
		},
		{
			name:   "plain text",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(err error) bool {
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.Message == "boom"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, srv.Client()).Analyze(context.Background(), internal.AnalyzeRequest{Code: "contract A {}"}, nil)
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestClient_FetchSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != "0xabc" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid Ethereum address."}`))
			return
		}
		_, _ = w.Write([]byte(`{"sourceCode":"contract A {}","contractName":"A","compiler":"v0.8.20"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	src, err := c.FetchSource(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("FetchSource() error = %v", err)
	}
	if src.SourceCode != "contract A {}" || src.ContractName != "A" || src.Compiler != "v0.8.20" {
		t.Errorf("unexpected source %+v", src)
	}

	if _, err := c.FetchSource(context.Background(), "0xdef"); err == nil {
		t.Error("expected error for rejected address")
	}
}
