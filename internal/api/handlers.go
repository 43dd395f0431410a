package api

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-staker/internal/ledger"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
)

// BlockParam is used by trade_getByBlock.
type BlockParam struct {
	Block uint64 `json:"block"`
}

func (s *Server) handleNodeGetInfo(_ *Request) (interface{}, *Error) {
	s.mu.RLock()
	n := s.node
	s.mu.RUnlock()
	if n == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "node not ready"}
	}
	return n.Info(), nil
}

func (s *Server) handleNodeGetHeartbeat(_ *Request) (interface{}, *Error) {
	s.mu.RLock()
	h := s.heartbeat
	s.mu.RUnlock()
	if h == nil {
		return &HeartbeatResult{}, nil
	}
	st := h.State()
	res := &HeartbeatResult{
		Running:       true,
		Online:        st.LastOnline,
		HasBeenOnline: st.HasBeenOnline,
		LastStatus:    st.LastStatus,
		LastMessage:   st.LastMessage,
		LastBlock:     st.LastBlock,
		StaleSeconds:  st.Stale.Seconds(),
		Ticks:         st.Ticks,
	}
	if !st.LastTickAt.IsZero() {
		res.LastTickAt = st.LastTickAt.UnixMilli()
	}
	return res, nil
}

func (s *Server) handleTradeGetLatest(_ *Request) (interface{}, *Error) {
	ts, rpcErr := s.tradeSource()
	if rpcErr != nil {
		return nil, rpcErr
	}
	block, found, err := ts.LatestTradeBlock()
	if err != nil {
		return nil, storeError(err)
	}
	if !found {
		return nil, &Error{Code: CodeNotFound, Message: "no trades recorded"}
	}
	return tradesAt(ts, block)
}

func (s *Server) handleTradeGetByBlock(req *Request) (interface{}, *Error) {
	var p BlockParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	ts, rpcErr := s.tradeSource()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return tradesAt(ts, p.Block)
}

func (s *Server) tradeSource() (TradeSource, *Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.trades == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "ledger not available"}
	}
	return s.trades, nil
}

func tradesAt(ts TradeSource, block uint64) (*LatestTradesResult, *Error) {
	trades, err := ts.TradesAt(block)
	if err != nil {
		return nil, storeError(err)
	}
	res := &LatestTradesResult{Block: block, Trades: make([]TradeResult, 0, len(trades))}
	for _, t := range trades {
		res.Trades = append(res.Trades, tradeResult(t))
	}
	return res, nil
}

func tradeResult(t ledger.Trade) TradeResult {
	return TradeResult{
		Block:     t.Block,
		Index:     t.Index,
		TxHash:    t.TxHash.String(),
		Value:     t.Value,
		Timestamp: t.Timestamp,
	}
}

// storeError maps a storage failure to a JSON-RPC error.
func storeError(err error) *Error {
	if errors.Is(err, storage.ErrUnavailable) {
		return &Error{Code: CodeUnavailable, Message: "store unavailable"}
	}
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf("store: %v", err)}
}
