package download

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/admi-n/excavator-audit/src/internal"
)

var (
	ErrInvalidAddress = errors.New("invalid Ethereum address")
	ErrMissingAPIKey  = errors.New("Etherscan API key not configured")
	ErrNotVerified    = errors.New("contract source code not found, make sure the contract is verified on Etherscan")
	ErrNoContractCode = errors.New("address has no contract code")
	ErrUpstream       = errors.New("failed to fetch from Etherscan")
)

const (
	defaultLookupTimeout  = 20 * time.Second
	defaultRequestsPerSec = 5
	sourceSeparator       = "\n\n"
)

// ContractSource 已验证合约的源码信息
type ContractSource struct {
	SourceCode   string `json:"sourceCode"`
	ContractName string `json:"contractName"`
	Compiler     string `json:"compiler"`
}

// LookupConfig 源码查询配置
type LookupConfig struct {
	Etherscan      EtherscanConfig
	RPCURL         string // 可选，配置后先用 CodeAt 确认地址上有合约
	RequestsPerSec int
}

// codeReader ethclient 中用到的部分
type codeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Lookup 按地址解析已验证的合约源码
type Lookup struct {
	etherscan EtherscanConfig
	client    *http.Client
	rpc       codeReader
	limiter   *RateLimiter
}

// NewLookup 创建查询器；RPCURL 非空时连接以太坊节点
func NewLookup(ctx context.Context, cfg LookupConfig) (*Lookup, error) {
	timeout := cfg.Etherscan.Timeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	client, err := internal.CreateProxyHTTPClient(cfg.Etherscan.Proxy, timeout)
	if err != nil {
		return nil, fmt.Errorf("创建 Etherscan HTTP 客户端失败: %w", err)
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}

	l := &Lookup{
		etherscan: cfg.Etherscan,
		client:    client,
		limiter:   NewRateLimiter(rps),
	}

	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		rpc, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			l.limiter.Stop()
			return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
		}
		l.rpc = rpc
	}

	return l, nil
}

// Close 释放节点连接和限速器
func (l *Lookup) Close() {
	if l.rpc != nil {
		l.rpc.Close()
	}
	if l.limiter != nil {
		l.limiter.Stop()
	}
}

// ValidAddress 检查 0x 前缀的 40 位十六进制地址
func ValidAddress(address string) bool {
	return len(address) == 2*common.AddressLength+2 &&
		strings.HasPrefix(address, "0x") &&
		common.IsHexAddress(address)
}

// GetContractSource 从 Etherscan 获取已验证合约的源码，多文件格式会被展开拼接
func (l *Lookup) GetContractSource(ctx context.Context, address string) (*ContractSource, error) {
	address = strings.TrimSpace(address)
	if !ValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	if strings.TrimSpace(l.etherscan.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if l.rpc != nil {
		code, err := l.rpc.CodeAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: 获取合约字节码失败: %v", ErrUpstream, err)
		}
		if len(code) == 0 {
			return nil, ErrNoContractCode
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := fetchSource(ctx, l.client, l.etherscan, address)
	if err != nil {
		return nil, err
	}
	if isOnlyBytecode(res.SourceCode) {
		return nil, ErrNotVerified
	}

	return &ContractSource{
		SourceCode:   UnwrapSources(res.SourceCode),
		ContractName: res.ContractName,
		Compiler:     res.CompilerVersion,
	}, nil
}

// UnwrapSources 展开 Etherscan 的 {{...}} 多文件格式，按出现顺序拼接各文件内容。
// 无法解析时原样返回。
func UnwrapSources(sourceCode string) string {
	if !strings.HasPrefix(sourceCode, "{{") || !strings.HasSuffix(sourceCode, "}}") {
		return sourceCode
	}

	contents, err := orderedSourceContents(sourceCode[1 : len(sourceCode)-1])
	if err != nil || len(contents) == 0 {
		return sourceCode
	}
	return strings.Join(contents, sourceSeparator)
}

// orderedSourceContents 逐 token 读取 standard-json 输入，保留 sources 的键顺序
func orderedSourceContents(input string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(input))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var contents []string
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		if key != "sources" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			if _, err := readKey(dec); err != nil {
				return nil, err
			}
			var file struct {
				Content string `json:"content"`
			}
			if err := dec.Decode(&file); err != nil {
				return nil, err
			}
			contents = append(contents, file.Content)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	// 结尾不允许有多余内容
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after source envelope")
	}
	return contents, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

// isOnlyBytecode 判断内容是否只是字节码（未开源合约）
func isOnlyBytecode(code string) bool {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "0x") || len(code) < 4 {
		return false
	}
	return bytes.IndexFunc([]byte(code[2:]), func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	}) < 0
}
