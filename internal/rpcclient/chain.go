package rpcclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChainInfo is the chain_getInfo result.
type ChainInfo struct {
	ChainID string `json:"chain_id"`
	Symbol  string `json:"symbol,omitempty"`
	Height  uint64 `json:"height"`
	TipHash string `json:"tip_hash"`
}

// Block is the subset of chain_getBlockByHeight the scanner reads.
type Block struct {
	Hash         string        `json:"hash"`
	Header       BlockHeader   `json:"header"`
	Transactions []Transaction `json:"transactions"`
}

// BlockHeader carries the header fields the scanner reads.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

// Transaction is a transaction with its precomputed hash.
type Transaction struct {
	Hash    string   `json:"hash"`
	Outputs []Output `json:"outputs"`
}

// Output is a transaction output.
type Output struct {
	Value  uint64 `json:"value"`
	Script Script `json:"script"`
}

// Script is a locking script with hex-encoded data.
type Script struct {
	Type uint8  `json:"type"`
	Data string `json:"data"`
}

// Script types that lock to a 20-byte address.
const (
	ScriptTypeP2PKH uint8 = 0x01
	ScriptTypeMint  uint8 = 0x10
)

// PaysTo reports whether the script locks funds to the 20-byte address.
func (s Script) PaysTo(addr []byte) bool {
	if s.Type != ScriptTypeP2PKH && s.Type != ScriptTypeMint {
		return false
	}
	data, err := hex.DecodeString(strings.TrimPrefix(s.Data, "0x"))
	if err != nil || len(data) != len(addr) {
		return false
	}
	return string(data) == string(addr)
}

// ChainInfo calls chain_getInfo.
func (c *Client) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := c.CallContext(ctx, "chain_getInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type heightParam struct {
	Height uint64 `json:"height"`
}

// BlockByHeight calls chain_getBlockByHeight.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	var b Block
	if err := c.CallContext(ctx, "chain_getBlockByHeight", heightParam{Height: height}, &b); err != nil {
		return nil, err
	}
	if b.Header.Height != height {
		return nil, fmt.Errorf("block %d: node returned height %d", height, b.Header.Height)
	}
	return &b, nil
}
