package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	x402Version       = 1
	paymentHeader     = "X-PAYMENT"
	usdcDecimals      = 6
	paymentTimeoutSec = 60

	// DefaultFacilitatorURL 公共 x402 facilitator
	DefaultFacilitatorURL = "https://x402.org/facilitator"
	defaultVerifyTimeout  = 10 * time.Second
)

// PaymentConfig x402 收费参数
type PaymentConfig struct {
	PayTo          string
	Price          string // 美元金额，例如 $0.50
	Network        string
	Asset          string // 代币合约地址
	Description    string
	FacilitatorURL string       // 为空时使用 DefaultFacilitatorURL
	HTTPClient     *http.Client // 调用 facilitator 的客户端，可选
}

// PaymentRequirements x402 402 响应中的单个支付方式
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

type paymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// paymentPayload X-PAYMENT 头解码后的结构
type paymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// verifyRequest facilitator /verify 请求体
type verifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      paymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// PaymentGate 在请求进入分析流程前检查 X-PAYMENT 头，并交给 facilitator 验证。
// 只验证不结算。
type PaymentGate struct {
	cfg        PaymentConfig
	amount     string
	verifyURL  string
	httpClient *http.Client
}

// NewPaymentGate 校验配置并把美元价格换算为 USDC 最小单位
func NewPaymentGate(cfg PaymentConfig) (*PaymentGate, error) {
	if !common.IsHexAddress(cfg.PayTo) {
		return nil, fmt.Errorf("invalid pay-to address %q", cfg.PayTo)
	}
	if cfg.Network == "" {
		return nil, fmt.Errorf("payment network is required")
	}
	amount, err := priceToAtomic(cfg.Price)
	if err != nil {
		return nil, err
	}

	facilitator := strings.TrimRight(strings.TrimSpace(cfg.FacilitatorURL), "/")
	if facilitator == "" {
		facilitator = DefaultFacilitatorURL
	}
	if !strings.HasPrefix(facilitator, "http://") && !strings.HasPrefix(facilitator, "https://") {
		return nil, fmt.Errorf("invalid facilitator URL %q", cfg.FacilitatorURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultVerifyTimeout}
	}

	return &PaymentGate{
		cfg:        cfg,
		amount:     amount,
		verifyURL:  facilitator + "/verify",
		httpClient: client,
	}, nil
}

// priceToAtomic "$0.50" -> "500000"
func priceToAtomic(price string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(price), "$")
	v, err := strconv.ParseFloat(p, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return "", fmt.Errorf("invalid price %q", price)
	}
	return strconv.FormatInt(int64(math.Round(v*math.Pow10(usdcDecimals))), 10), nil
}

// Requirements 返回指定资源的支付要求
func (g *PaymentGate) Requirements(resource string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           g.cfg.Network,
		MaxAmountRequired: g.amount,
		Resource:          resource,
		Description:       g.cfg.Description,
		MimeType:          "application/json",
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: paymentTimeoutSec,
		Asset:             g.cfg.Asset,
	}
}

// Middleware 没有合法 X-PAYMENT 头时返回 402，下游 handler 不会被调用
func (g *PaymentGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(paymentHeader))
		if header == "" {
			g.reject(w, r, "X-PAYMENT header is required")
			return
		}
		payload, err := g.decode(header)
		if err != nil {
			g.reject(w, r, err.Error())
			return
		}
		if err := g.verify(r.Context(), payload, g.Requirements(resourceURL(r))); err != nil {
			g.reject(w, r, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decode 解码 X-PAYMENT 头并做本地格式检查
func (g *PaymentGate) decode(header string) (*paymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(header); err != nil {
			return nil, fmt.Errorf("invalid X-PAYMENT header encoding")
		}
	}

	var p paymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid X-PAYMENT payload")
	}
	switch {
	case p.X402Version != x402Version:
		return nil, fmt.Errorf("unsupported x402 version %d", p.X402Version)
	case p.Scheme != "exact":
		return nil, fmt.Errorf("unsupported payment scheme %q", p.Scheme)
	case p.Network != g.cfg.Network:
		return nil, fmt.Errorf("payment network mismatch: %q", p.Network)
	case len(p.Payload) == 0 || string(p.Payload) == "null":
		return nil, fmt.Errorf("missing payment payload")
	}
	return &p, nil
}

// verify 把支付载荷与支付要求发给 facilitator；不可达或返回无效都视为未支付
func (g *PaymentGate) verify(ctx context.Context, p *paymentPayload, req PaymentRequirements) error {
	body, err := json.Marshal(verifyRequest{
		X402Version:         x402Version,
		PaymentPayload:      *p,
		PaymentRequirements: req,
	})
	if err != nil {
		return fmt.Errorf("payment verification failed")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultVerifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.verifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payment verification failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payment verification unavailable")
	}
	defer resp.Body.Close()

	var vr verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&vr); err != nil {
		return fmt.Errorf("payment verification failed: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !vr.IsValid {
		reason := vr.InvalidReason
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("payment invalid: %s", reason)
	}
	return nil
}

func (g *PaymentGate) reject(w http.ResponseWriter, r *http.Request, reason string) {
	writeJSON(w, http.StatusPaymentRequired, paymentRequiredResponse{
		X402Version: x402Version,
		Error:       reason,
		Accepts:     []PaymentRequirements{g.Requirements(resourceURL(r))},
	})
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
