package internal

// Source 标记合约代码的来源
type Source string

const (
	SourcePaste     Source = "paste"     // 用户直接粘贴
	SourceEtherscan Source = "etherscan" // 通过地址从 Etherscan 拉取
)

// Valid 判断来源标签是否受支持
func (s Source) Valid() bool {
	return s == SourcePaste || s == SourceEtherscan
}

// AnalyzeRequest 表示一次分析请求（HTTP 请求体同样使用该结构）
type AnalyzeRequest struct {
	Code            string `json:"code"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Source          Source `json:"source,omitempty"`
}
