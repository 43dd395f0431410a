package api

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeUnavailable    = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// NodeInfo is returned by node_getInfo.
type NodeInfo struct {
	Version       string `json:"version"`
	Network       string `json:"network"`
	Phase         string `json:"phase"`
	Staking       bool   `json:"staking"`
	ColdWallet    string `json:"cold_wallet,omitempty"`
	CurrentBlock  uint64 `json:"current_block"`
	ChainEndpoint string `json:"chain_endpoint"`
	ChainID       string `json:"chain_id,omitempty"`
}

// HeartbeatResult is returned by node_getHeartbeat.
type HeartbeatResult struct {
	Running       bool    `json:"running"`
	Online        bool    `json:"online"`
	HasBeenOnline bool    `json:"has_been_online"`
	LastStatus    int     `json:"last_status"`
	LastMessage   string  `json:"last_message,omitempty"`
	LastBlock     uint64  `json:"last_block"`
	StaleSeconds  float64 `json:"stale_seconds"`
	LastTickAt    int64   `json:"last_tick_at,omitempty"` // unix ms
	Ticks         uint64  `json:"ticks"`
}

// TradeResult is one recorded trade.
type TradeResult struct {
	Block     uint64 `json:"block"`
	Index     uint32 `json:"index"`
	TxHash    string `json:"tx_hash"`
	Value     uint64 `json:"value"`
	Timestamp uint64 `json:"timestamp"`
}

// LatestTradesResult is returned by trade_getLatest.
type LatestTradesResult struct {
	Block  uint64        `json:"block"`
	Trades []TradeResult `json:"trades"`
}
