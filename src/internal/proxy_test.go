package internal

import (
	"net/http"
	"testing"
	"time"
)

func TestValidateProxyURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"", false},
		{"http://127.0.0.1:7897", false},
		{"socks5://127.0.0.1:1080", false},
		{"ftp://127.0.0.1:21", true},
		{"http://", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		if err := ValidateProxyURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateProxyURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestCreateProxyHTTPClient(t *testing.T) {
	client, err := CreateProxyHTTPClient("http://127.0.0.1:7897", 5*time.Second)
	if err != nil {
		t.Fatalf("CreateProxyHTTPClient() error = %v", err)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", client.Timeout)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://api.etherscan.io/v2/api", nil)
	proxy, err := client.Transport.(*http.Transport).Proxy(req)
	if err != nil || proxy == nil || proxy.Host != "127.0.0.1:7897" {
		t.Errorf("proxy not applied: %v, %v", proxy, err)
	}

	pm, err := NewProxyManager("  ")
	if err != nil || pm.IsEnabled() || pm.GetProxyURL() != "" {
		t.Errorf("blank proxy should be disabled: %+v, %v", pm, err)
	}

	if _, err := CreateProxyHTTPClient("ftp://x:1", 0); err == nil {
		t.Error("invalid proxy should fail")
	}
}
