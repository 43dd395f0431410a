// Package scanner follows the chain tip and records trades that pay the
// staked wallet into the ledger.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klingon-tech/klingnet-staker/internal/ledger"
	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/report"
	"github.com/Klingon-tech/klingnet-staker/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

// MaxBatch caps how many blocks one poll processes.
const MaxBatch = 100

// BlockSource is the chain endpoint the scanner reads.
type BlockSource interface {
	ChainInfo(ctx context.Context) (*rpcclient.ChainInfo, error)
	BlockByHeight(ctx context.Context, height uint64) (*rpcclient.Block, error)
}

// Recorder persists trades.
type Recorder interface {
	Record(trades []ledger.Trade) error
}

// Config configures a Scanner.
type Config struct {
	Source       BlockSource
	Ledger       Recorder
	Watch        []types.Address // addresses whose incoming payments are trades
	StartBlock   uint64
	PollInterval time.Duration
	Reporter     report.Reporter
	Registerer   prometheus.Registerer // nil skips metrics registration
}

// Scanner polls the chain for new blocks.
type Scanner struct {
	cfg     Config
	current atomic.Uint64
	next    uint64

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once

	heightGauge prometheus.Gauge
	blocks      prometheus.Counter
	trades      prometheus.Counter
}

// New creates a scanner positioned at cfg.StartBlock.
func New(cfg Config) (*Scanner, error) {
	if cfg.Source == nil || cfg.Ledger == nil {
		return nil, errors.New("scanner: source and ledger are required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("scanner: poll interval must be positive")
	}
	if cfg.Reporter == nil {
		cfg.Reporter = report.Nop{}
	}
	s := &Scanner{
		cfg:   cfg,
		next:  cfg.StartBlock,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		heightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klingnet_scanner_current_block",
			Help: "Highest block processed by the scanner.",
		}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klingnet_scanner_blocks_total",
			Help: "Blocks processed by the scanner.",
		}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klingnet_scanner_trades_total",
			Help: "Trades recorded by the scanner.",
		}),
	}
	s.current.Store(cfg.StartBlock)
	s.heightGauge.Set(float64(cfg.StartBlock))
	if cfg.Registerer != nil {
		for _, c := range []prometheus.Collector{s.heightGauge, s.blocks, s.trades} {
			if err := cfg.Registerer.Register(c); err != nil {
				return nil, fmt.Errorf("scanner: register metrics: %w", err)
			}
		}
	}
	return s, nil
}

// Start launches the polling goroutine.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scanner: already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	log.Scanner.Info().
		Uint64("start_block", s.cfg.StartBlock).
		Int("watched", len(s.cfg.Watch)).
		Dur("interval", s.cfg.PollInterval).
		Msg("Scanner started")
	return nil
}

// Ready is closed once the first poll has completed successfully.
func (s *Scanner) Ready() <-chan struct{} {
	return s.ready
}

// CurrentBlock returns the highest block processed so far.
func (s *Scanner) CurrentBlock() uint64 {
	return s.current.Load()
}

// Close stops polling and waits for the goroutine to exit.
// Safe to call more than once and before Start.
func (s *Scanner) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.started = true // a later Start must not run
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-s.done
		}
		log.Scanner.Info().Uint64("block", s.CurrentBlock()).Msg("Scanner stopped")
	})
	return nil
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, storage.ErrUnavailable) {
				log.Scanner.Debug().Err(err).Msg("Ledger closed, scanner stopping")
				return
			}
			log.Scanner.Warn().Err(err).Uint64("next", s.next).Msg("Scan failed")
			s.cfg.Reporter.Report(err, "scanner")
		} else {
			s.readyOnce.Do(func() {
				close(s.ready)
				log.Scanner.Info().Uint64("block", s.CurrentBlock()).Msg("Scanner ready")
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll processes up to MaxBatch blocks towards the tip.
func (s *Scanner) poll(ctx context.Context) error {
	info, err := s.cfg.Source.ChainInfo(ctx)
	if err != nil {
		return fmt.Errorf("chain info: %w", err)
	}

	for n := 0; n < MaxBatch && s.next <= info.Height; n++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := s.cfg.Source.BlockByHeight(ctx, s.next)
		if err != nil {
			return fmt.Errorf("block %d: %w", s.next, err)
		}
		trades := s.extract(b)
		if err := s.cfg.Ledger.Record(trades); err != nil {
			return fmt.Errorf("record block %d: %w", s.next, err)
		}
		s.current.Store(s.next)
		s.heightGauge.Set(float64(s.next))
		s.blocks.Inc()
		s.trades.Add(float64(len(trades)))
		if len(trades) > 0 {
			log.Scanner.Debug().Uint64("block", s.next).Int("trades", len(trades)).Msg("Recorded trades")
		}
		s.next++
	}
	return nil
}

// extract returns one trade per transaction paying a watched address.
func (s *Scanner) extract(b *rpcclient.Block) []ledger.Trade {
	if len(s.cfg.Watch) == 0 {
		return nil
	}
	var out []ledger.Trade
	for i, tx := range b.Transactions {
		var value uint64
		for _, o := range tx.Outputs {
			for _, addr := range s.cfg.Watch {
				if o.Script.PaysTo(addr[:]) {
					value += o.Value
				}
			}
		}
		if value == 0 {
			continue
		}
		hash, err := types.HexToHash(strings.TrimPrefix(tx.Hash, "0x"))
		if err != nil {
			log.Scanner.Warn().Err(err).Str("tx", tx.Hash).Uint64("block", b.Header.Height).Msg("Skipping transaction with malformed hash")
			continue
		}
		out = append(out, ledger.Trade{
			Block:     b.Header.Height,
			Index:     uint32(i),
			TxHash:    hash,
			Value:     value,
			Timestamp: b.Header.Timestamp,
		})
	}
	return out
}
