package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/admi-n/excavator-audit/src/internal"
	"github.com/admi-n/excavator-audit/src/internal/download"
)

// ErrPaymentRequired 服务端要求支付（HTTP 402）
var ErrPaymentRequired = errors.New("payment required")

const maxErrorBody = 64 << 10

// APIError 服务端在流开始前返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client 分析服务的 HTTP 客户端
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// PaymentHeader 非空时作为 X-PAYMENT 请求头发送
	PaymentHeader string
}

// NewClient 创建客户端。流式响应不能设置整体超时，超时由 ctx 控制
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// Analyze 提交代码并消费事件流，onUpdate 在每个事件之后收到状态快照
func (c *Client) Analyze(ctx context.Context, req internal.AnalyzeRequest, onUpdate func(State)) (State, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return State{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/analyze", bytes.NewReader(body))
	if err != nil {
		return State{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.PaymentHeader != "" {
		httpReq.Header.Set("X-PAYMENT", c.PaymentHeader)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			st := NewReassembler(nil).State()
			st.Aborted = true
			return st, nil
		}
		return State{}, fmt.Errorf("send analyze request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return State{}, decodeAPIError(resp)
	}

	return NewReassembler(onUpdate).Consume(ctx, resp.Body)
}

// FetchSource 通过服务端的 Etherscan 代理获取合约源码
func (c *Client) FetchSource(ctx context.Context, address string) (*download.ContractSource, error) {
	u := c.BaseURL + "/api/etherscan?address=" + url.QueryEscape(address)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var src download.ContractSource
	if err := json.NewDecoder(resp.Body).Decode(&src); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	return &src, nil
}

func decodeAPIError(resp *http.Response) error {
	if resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("%w: %s", ErrPaymentRequired, paymentSummary(resp))
	}

	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
}

// paymentSummary 从 402 响应中提取价格和网络，便于在命令行提示
func paymentSummary(resp *http.Response) string {
	var payload struct {
		Error   string `json:"error"`
		Accepts []struct {
			Network           string `json:"network"`
			MaxAmountRequired string `json:"maxAmountRequired"`
			PayTo             string `json:"payTo"`
			Description       string `json:"description"`
		} `json:"accepts"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload); err != nil || len(payload.Accepts) == 0 {
		return "no payment requirements in response"
	}
	a := payload.Accepts[0]
	return fmt.Sprintf("%s on %s to %s (%s)", a.MaxAmountRequired, a.Network, a.PayTo, a.Description)
}
