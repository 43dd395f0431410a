// Package ledger persists the trades observed by the chain scanner.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-staker/internal/storage"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

// Key prefixes for the ledger store.
var (
	prefixTrade = []byte("t/") // t/<block8><index4> -> Trade JSON
	prefixMeta  = []byte("m/")

	keyLatest = []byte("latest") // m/latest -> block8
	keySchema = []byte("schema") // m/schema -> version4
)

// Trade is a transaction the scanner attributed to the staked wallet.
type Trade struct {
	Block     uint64     `json:"block"`
	Index     uint32     `json:"index"`
	TxHash    types.Hash `json:"tx_hash"`
	Value     uint64     `json:"value"`
	Timestamp uint64     `json:"timestamp"`
}

// Store implements trade persistence backed by a storage.DB.
type Store struct {
	db     storage.DB
	trades *storage.PrefixDB
	meta   *storage.PrefixDB
}

// NewStore creates a new ledger store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{
		db:     db,
		trades: storage.NewPrefixDB(db, prefixTrade),
		meta:   storage.NewPrefixDB(db, prefixMeta),
	}
}

// tradeKey builds a key ordered by block then index: block(8) + index(4).
func tradeKey(block uint64, index uint32) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint64(key, block)
	binary.BigEndian.PutUint32(key[8:], index)
	return key
}

func blockPrefix(block uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, block)
	return key
}

// Record stores trades atomically and advances the latest-trade marker.
func (s *Store) Record(trades []Trade) error {
	if len(trades) == 0 {
		return nil
	}
	latest, found, err := s.LatestTradeBlock()
	if err != nil {
		return err
	}

	batch := s.trades.NewBatch()
	for _, t := range trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("trade marshal: %w", err)
		}
		if err := batch.Put(tradeKey(t.Block, t.Index), data); err != nil {
			return fmt.Errorf("trade put: %w", err)
		}
		if !found || t.Block > latest {
			latest, found = t.Block, true
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("trade commit: %w", err)
	}
	if err := s.meta.Put(keyLatest, blockPrefix(latest)); err != nil {
		return fmt.Errorf("latest put: %w", err)
	}
	return nil
}

// LatestTradeBlock returns the highest block containing a recorded trade.
// found is false when the ledger is empty.
func (s *Store) LatestTradeBlock() (block uint64, found bool, err error) {
	data, err := s.meta.Get(keyLatest)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest get: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("latest marker: bad length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// TradesAt returns the trades recorded for one block, ordered by index.
func (s *Store) TradesAt(block uint64) ([]Trade, error) {
	var out []Trade
	err := s.trades.ForEach(blockPrefix(block), func(_, value []byte) error {
		var t Trade
		if err := json.Unmarshal(value, &t); err != nil {
			return fmt.Errorf("trade unmarshal: %w", err)
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Reset deletes every recorded trade and the latest-trade marker.
// The schema version is kept.
func (s *Store) Reset() error {
	if err := s.trades.DeleteAll(); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	if err := s.meta.Delete(keyLatest); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	return nil
}
