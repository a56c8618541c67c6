package cmd

import (
	"testing"

	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/ai/parser"
	"github.com/admi-n/excavator-audit/src/internal/stream"
)

func TestCLIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		files   []string
		wantErr bool
	}{
		{"files", CLIConfig{Server: "http://localhost:8080"}, []string{"a.sol"}, false},
		{"address", CLIConfig{Server: "https://audit.example", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7"}, nil, false},
		{"nothing", CLIConfig{Server: "http://localhost:8080"}, nil, true},
		{"both", CLIConfig{Server: "http://localhost:8080", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7"}, []string{"a.sol"}, true},
		{"bad address", CLIConfig{Server: "http://localhost:8080", Address: "0x1234"}, nil, true},
		{"bad server", CLIConfig{Server: "localhost:8080"}, []string{"a.sol"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.files)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.cfg.Concurrency != 4 {
				t.Errorf("concurrency default = %d, want 4", tt.cfg.Concurrency)
			}
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "analyze", "lookup", "show"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %s not registered: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil || root.PersistentFlags().Lookup("debug") == nil {
		t.Error("persistent flags missing")
	}
	serve, _, _ := root.Find([]string{"serve"})
	if serve.Flags().Lookup("check-model") == nil {
		t.Error("serve --check-model flag missing")
	}
}

func TestStateToRecord(t *testing.T) {
	score := 64
	st := stream.State{
		Findings: []parser.Finding{{Severity: parser.SeverityHigh, Title: "x"}},
		Score:    &score,
		Summary:  "s",
		ID:       "abcdefghijkl",
		Done:     true,
	}
	req := internal.AnalyzeRequest{Code: "contract A {}", ContractAddress: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Source: internal.SourceEtherscan}

	rec := stateToRecord(st, req)
	if rec.ID != st.ID || rec.Score != 64 || rec.Source != internal.SourceEtherscan || rec.ContractCode != req.Code || len(rec.Findings) != 1 {
		t.Errorf("unexpected record %+v", rec)
	}

	if err := jobError(&analyzeJob{state: st}); err != nil {
		t.Errorf("complete state should succeed: %v", err)
	}
	if err := jobError(&analyzeJob{state: stream.State{Error: "Analysis failed", Done: true}}); err == nil {
		t.Error("in-band error should fail the job")
	}
	if err := jobError(&analyzeJob{state: stream.State{Aborted: true}}); err == nil {
		t.Error("aborted run should fail the job")
	}
}
