package ledger

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

func init() {
	log.Init("error", false, "")
}

func TestLatestTradeBlock_Empty(t *testing.T) {
	s := NewStore(storage.NewMemory())
	block, found, err := s.LatestTradeBlock()
	if err != nil {
		t.Fatalf("LatestTradeBlock: %v", err)
	}
	if found || block != 0 {
		t.Fatalf("empty ledger = (%d, %v), want (0, false)", block, found)
	}
}

func TestRecord_TracksHighestBlock(t *testing.T) {
	s := NewStore(storage.NewMemory())

	if err := s.Record([]Trade{{Block: 50, Index: 0}, {Block: 42, Index: 1}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// An older block must not move the marker backwards.
	if err := s.Record([]Trade{{Block: 10}}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	block, found, err := s.LatestTradeBlock()
	if err != nil || !found {
		t.Fatalf("LatestTradeBlock = (%d, %v, %v)", block, found, err)
	}
	if block != 50 {
		t.Errorf("latest = %d, want 50", block)
	}
}

func TestTradesAt_OrderedByIndex(t *testing.T) {
	s := NewStore(storage.NewMemory())
	h := types.Hash{0xab}
	s.Record([]Trade{
		{Block: 7, Index: 2},
		{Block: 7, Index: 0, TxHash: h},
		{Block: 8, Index: 0},
		{Block: 7, Index: 1},
	})

	got, err := s.TradesAt(7)
	if err != nil {
		t.Fatalf("TradesAt: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, tr := range got {
		if tr.Index != uint32(i) {
			t.Errorf("got[%d].Index = %d", i, tr.Index)
		}
	}
	if got[0].TxHash != h {
		t.Errorf("tx hash not persisted: %s", got[0].TxHash)
	}
}

func TestReset(t *testing.T) {
	s := NewStore(storage.NewMemory())
	s.Record([]Trade{{Block: 3}})
	if _, err := s.Migrate(); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, found, _ := s.LatestTradeBlock(); found {
		t.Error("latest marker survived Reset")
	}
	if trades, _ := s.TradesAt(3); len(trades) != 0 {
		t.Errorf("trades survived Reset: %v", trades)
	}
	if v, _ := s.SchemaVersion(); v != LatestVersion() {
		t.Errorf("schema version = %d after Reset, want %d", v, LatestVersion())
	}
}

func TestRecord_DisabledStore(t *testing.T) {
	g := storage.NewGated(storage.NewMemory())
	s := NewStore(g)
	g.Disable()

	err := s.Record([]Trade{{Block: 1}})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Record on disabled store = %v, want ErrUnavailable", err)
	}
}
