package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klingon-tech/klingnet-staker/internal/ledger"
	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

func init() {
	log.Init("error", false, "")
}

var watched = types.Address{0xaa, 0xbb}

// fakeChain serves blocks 0..height; the block at payHeight pays watched.
type fakeChain struct {
	mu        sync.Mutex
	height    uint64
	payHeight uint64
	failInfo  bool
	requested []uint64
}

func (c *fakeChain) ChainInfo(context.Context) (*rpcclient.ChainInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInfo {
		return nil, errors.New("node down")
	}
	return &rpcclient.ChainInfo{Height: c.height}, nil
}

func (c *fakeChain) BlockByHeight(_ context.Context, h uint64) (*rpcclient.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, h)
	b := &rpcclient.Block{Header: rpcclient.BlockHeader{Height: h, Timestamp: 1000 + h}}
	if h == c.payHeight {
		b.Transactions = []rpcclient.Transaction{
			{Hash: strings.Repeat("00", 32), Outputs: []rpcclient.Output{{Value: 1, Script: rpcclient.Script{Type: rpcclient.ScriptTypeP2PKH, Data: "ff"}}}},
			{Hash: strings.Repeat("11", 32), Outputs: []rpcclient.Output{
				{Value: 7, Script: rpcclient.Script{Type: rpcclient.ScriptTypeP2PKH, Data: fmt.Sprintf("%x", watched[:])}},
				{Value: 3, Script: rpcclient.Script{Type: rpcclient.ScriptTypeP2PKH, Data: fmt.Sprintf("%x", watched[:])}},
			}},
		}
	}
	return b, nil
}

func newTestScanner(t *testing.T, chain *fakeChain, start uint64) (*Scanner, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(storage.NewMemory())
	s, err := New(Config{
		Source:       chain,
		Ledger:       store,
		Watch:        []types.Address{watched},
		StartBlock:   start,
		PollInterval: 5 * time.Millisecond,
		Registerer:   prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, store
}

func waitReady(t *testing.T, s *Scanner) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("scanner never became ready")
	}
}

func TestScanner_RecordsTradesAndBecomesReady(t *testing.T) {
	chain := &fakeChain{height: 20, payHeight: 12}
	s, store := newTestScanner(t, chain, 10)

	if s.CurrentBlock() != 10 {
		t.Errorf("CurrentBlock before start = %d, want 10", s.CurrentBlock())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitReady(t, s)

	if got := s.CurrentBlock(); got != 20 {
		t.Errorf("CurrentBlock = %d, want 20", got)
	}
	latest, found, err := store.LatestTradeBlock()
	if err != nil || !found || latest != 12 {
		t.Fatalf("LatestTradeBlock = (%d, %v, %v), want (12, true, nil)", latest, found, err)
	}
	trades, _ := store.TradesAt(12)
	if len(trades) != 1 {
		t.Fatalf("trades at 12 = %d, want 1", len(trades))
	}
	if trades[0].Index != 1 || trades[0].Value != 10 || trades[0].Timestamp != 1012 {
		t.Errorf("trade = %+v", trades[0])
	}

	chain.mu.Lock()
	first := chain.requested[0]
	chain.mu.Unlock()
	if first != 10 {
		t.Errorf("first requested block = %d, want start block 10", first)
	}
}

func TestScanner_FollowsTip(t *testing.T) {
	chain := &fakeChain{height: 5, payHeight: 1 << 40}
	s, _ := newTestScanner(t, chain, 0)
	s.Start(context.Background())
	waitReady(t, s)

	chain.mu.Lock()
	chain.height = 8
	chain.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for s.CurrentBlock() != 8 {
		if time.Now().After(deadline) {
			t.Fatalf("CurrentBlock = %d, want 8", s.CurrentBlock())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScanner_NotReadyWhileChainDown(t *testing.T) {
	chain := &fakeChain{height: 5, failInfo: true}
	s, _ := newTestScanner(t, chain, 0)
	s.Start(context.Background())

	select {
	case <-s.Ready():
		t.Fatal("scanner reported ready without a successful poll")
	case <-time.After(30 * time.Millisecond):
	}

	chain.mu.Lock()
	chain.failInfo = false
	chain.mu.Unlock()
	waitReady(t, s)
}

func TestScanner_BatchLimit(t *testing.T) {
	chain := &fakeChain{height: MaxBatch * 3, payHeight: 1 << 40}
	store := ledger.NewStore(storage.NewMemory())
	s, err := New(Config{Source: chain, Ledger: store, StartBlock: 0, PollInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := s.CurrentBlock(); got != MaxBatch-1 {
		t.Errorf("CurrentBlock after one poll = %d, want %d", got, MaxBatch-1)
	}
}

func TestScanner_StartTwice(t *testing.T) {
	s, _ := newTestScanner(t, &fakeChain{}, 0)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestScanner_CloseIdempotent(t *testing.T) {
	s, _ := newTestScanner(t, &fakeChain{height: 3}, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close before Start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start after Close should fail")
	}
}

type closedLedger struct{}

func (closedLedger) Record([]ledger.Trade) error {
	return fmt.Errorf("put: %w", storage.ErrUnavailable)
}

type countingReporter struct {
	mu sync.Mutex
	n  int
}

func (r *countingReporter) Report(error, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func TestScanner_StopsQuietlyOnClosedLedger(t *testing.T) {
	rep := &countingReporter{}
	s, err := New(Config{
		Source:       &fakeChain{height: 3},
		Ledger:       closedLedger{},
		StartBlock:   0,
		PollInterval: 5 * time.Millisecond,
		Reporter:     rep,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scanner kept polling a closed ledger")
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.n != 0 {
		t.Errorf("reports = %d, want 0", rep.n)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{PollInterval: time.Second}); err == nil {
		t.Error("missing source/ledger should fail")
	}
	if _, err := New(Config{Source: &fakeChain{}, Ledger: ledger.NewStore(storage.NewMemory())}); err == nil {
		t.Error("zero poll interval should fail")
	}
}
