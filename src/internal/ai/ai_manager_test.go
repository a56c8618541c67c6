package ai

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	response string
	err      error
	block    bool // 阻塞直到 ctx 结束
	calls    atomic.Int32
	closed   atomic.Int32
	system   string
}

func (f *fakeClient) Analyze(ctx context.Context, systemPrompt, prompt string) (string, error) {
	f.calls.Add(1)
	f.system = systemPrompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeClient) GetName() string { return "fake" }

func (f *fakeClient) Close() error {
	f.closed.Add(1)
	return nil
}

func TestManager_Analyze(t *testing.T) {
	fc := &fakeClient{response: `{"score":90}`}
	m := NewManagerWithClient(fc, 10, nil)
	defer m.Close()

	got, err := m.Analyze(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got != `{"score":90}` || fc.system != "sys" {
		t.Errorf("unexpected result %q (system %q)", got, fc.system)
	}
}

func TestManager_NoRetry(t *testing.T) {
	fc := &fakeClient{err: errors.New("boom")}
	m := NewManagerWithClient(fc, 10, nil)
	defer m.Close()

	if _, err := m.Analyze(context.Background(), "s", "p"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
	if fc.calls.Load() != 1 {
		t.Errorf("model should be called exactly once, got %d", fc.calls.Load())
	}
}

func TestManager_RateLimitHonoursContext(t *testing.T) {
	fc := &fakeClient{response: "ok"}
	m := NewManagerWithClient(fc, 1, nil)
	defer m.Close()

	if _, err := m.Analyze(context.Background(), "s", "p"); err != nil {
		t.Fatalf("first call should use the initial token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Analyze(ctx, "s", "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while waiting for a token, got %v", err)
	}
}

func TestManager_Timeout(t *testing.T) {
	fc := &fakeClient{block: true}
	m := NewManagerWithClient(fc, 1, nil)
	defer m.Close()
	m.timeout = 30 * time.Millisecond

	start := time.Now()
	_, err := m.Analyze(context.Background(), "s", "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline from a hanging client, got %v", err)
	}

	// 令牌已用完，限流等待同样受超时约束
	fc.block = false
	_, err = m.Analyze(context.Background(), "s", "p")
	if !errors.Is(err, context.DeadlineExceeded) || fc.calls.Load() != 1 {
		t.Fatalf("expected deadline while waiting for a token, got %v (calls %d)", err, fc.calls.Load())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
}

func TestManager_TestConnection(t *testing.T) {
	fc := &fakeClient{response: "OK"}
	m := NewManagerWithClient(fc, 5, nil)
	defer m.Close()

	if err := m.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection() error = %v", err)
	}
	fc.err = errors.New("invalid api key")
	if err := m.TestConnection(context.Background()); err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestNewManager_Timeout(t *testing.T) {
	m, err := NewManager(context.Background(), ManagerConfig{Provider: "ollama", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if m.timeout != 5*time.Second {
		t.Errorf("timeout = %v", m.timeout)
	}
}

func TestManager_CloseOnce(t *testing.T) {
	fc := &fakeClient{}
	m := NewManagerWithClient(fc, 5, nil)
	_ = m.Close()
	_ = m.Close()
	if fc.closed.Load() != 1 {
		t.Errorf("client closed %d times", fc.closed.Load())
	}
}

func TestValidateProvider(t *testing.T) {
	for _, p := range []string{"anthropic", "claude", "openai", "chatgpt", "deepseek", "ollama", "local-llm", "gemini", "genkit", "Anthropic"} {
		if err := ValidateProvider(p); err != nil {
			t.Errorf("ValidateProvider(%q) error = %v", p, err)
		}
	}
	if err := ValidateProvider("mistral"); err == nil {
		t.Error("unknown provider should be rejected")
	}
	if RequiresAPIKey("ollama") || !RequiresAPIKey("deepseek") {
		t.Error("RequiresAPIKey mismatch")
	}
}

func TestNewManager_MissingKey(t *testing.T) {
	if _, err := NewManager(context.Background(), ManagerConfig{}); err == nil {
		t.Fatal("default provider without a key should be rejected")
	}
	m, err := NewManager(context.Background(), ManagerConfig{Provider: "ollama"})
	if err != nil {
		t.Fatalf("ollama needs no key: %v", err)
	}
	defer m.Close()
	if !strings.HasPrefix(m.GetClientInfo(), "Local LLM") {
		t.Errorf("unexpected client %s", m.GetClientInfo())
	}
}
