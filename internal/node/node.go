// Package node wires the staking supervisor together: it brings up the
// store, credentials, chain connection, listeners and chain worker in
// order, then hands liveness reporting to the heartbeat engine.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-staker/config"
	"github.com/Klingon-tech/klingnet-staker/internal/api"
	"github.com/Klingon-tech/klingnet-staker/internal/gate"
	"github.com/Klingon-tech/klingnet-staker/internal/heartbeat"
	"github.com/Klingon-tech/klingnet-staker/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/report"
	"github.com/Klingon-tech/klingnet-staker/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-staker/internal/scanner"
	"github.com/Klingon-tech/klingnet-staker/internal/status"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
	"github.com/Klingon-tech/klingnet-staker/internal/wallet"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

// ErrStoreUnreachable is returned when the store never answers a ping.
var ErrStoreUnreachable = errors.New("store unreachable")

// ChainClient is the upstream chain endpoint.
type ChainClient interface {
	ChainInfo(ctx context.Context) (*rpcclient.ChainInfo, error)
	BlockByHeight(ctx context.Context, height uint64) (*rpcclient.Block, error)
}

// Worker is the chain-scanning job the heartbeat reports on.
type Worker interface {
	Start(ctx context.Context) error
	Ready() <-chan struct{}
	CurrentBlock() uint64
	Close() error
}

// WorkerFactory builds the worker from its scanner configuration.
type WorkerFactory func(cfg scanner.Config) (Worker, error)

func newScanner(cfg scanner.Config) (Worker, error) {
	return scanner.New(cfg)
}

// Option customizes a Node.
type Option func(*options)

type options struct {
	store         storage.DB
	chain         ChainClient
	workerFactory WorkerFactory
	httpClient    heartbeat.Doer
	clock         clock.Clock
	reporter      report.Reporter
	registry      *prometheus.Registry
	waitInterval  time.Duration
	skipLogInit   bool
}

// WithStore uses db instead of opening the badger store.
func WithStore(db storage.DB) Option {
	return func(o *options) { o.store = db }
}

// WithChainClient uses c instead of dialing chain.rpc.
func WithChainClient(c ChainClient) Option {
	return func(o *options) { o.chain = c }
}

// WithWorkerFactory replaces the chain scanner.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(o *options) { o.workerFactory = f }
}

// WithHTTPClient sets the transport used for keepalives.
func WithHTTPClient(c heartbeat.Doer) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock sets the heartbeat time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithReporter sets the error-reporting sink.
func WithReporter(r report.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithWaitInterval overrides the store and chain retry interval.
func WithWaitInterval(d time.Duration) Option {
	return func(o *options) { o.waitInterval = d }
}

// WithoutLogInit leaves the global logger as configured by the caller.
func WithoutLogInit() Option {
	return func(o *options) { o.skipLogInit = true }
}

// Node is the staking supervisor.
type Node struct {
	cfg    *config.Config
	opts   options
	logger zerolog.Logger
	phase  atomic.Int32

	registry *prometheus.Registry
	reporter report.Reporter
	hbMetric *heartbeat.Metrics

	store     *storage.GatedDB
	ledger    *ledger.Store
	identity  *wallet.Identity
	chain     ChainClient
	chainInfo *rpcclient.ChainInfo
	transport heartbeat.Doer
	hb        *heartbeat.Engine
	api       *api.Server
	status    *status.Server

	workerMu sync.RWMutex
	worker   Worker

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	abortCtx context.Context // cancelled when Shutdown begins
	abort    context.CancelFunc
	startMu  sync.Mutex
	group    errgroup.Group

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a node. Nothing is opened or bound until Start.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	o := options{
		workerFactory: newScanner,
		waitInterval:  config.StoreWaitInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Network == config.Testnet {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	if !o.skipLogInit {
		logFile := cfg.Log.File
		if logFile == "" {
			logsDir := cfg.LogsDir()
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				return nil, fmt.Errorf("creating logs dir: %w", err)
			}
			logFile = filepath.Join(logsDir, "klingstaked.log")
		}
		if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, expandHome(logFile)); err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	rep := o.reporter
	if rep == nil {
		if cfg.Report.Disabled {
			rep = report.Nop{}
		} else {
			rep = report.NewLogReporter(reg)
		}
	}

	n := &Node{
		cfg:      cfg,
		opts:     o,
		logger:   klog.Node,
		registry: reg,
		reporter: rep,
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.abortCtx, n.abort = context.WithCancel(context.Background())
	return n, nil
}

// Start brings the node up phase by phase. The heartbeat starts in the
// background once the worker reports ready. On failure the returned
// *StartupError names the phase that was not reached; call Shutdown to
// release whatever was built.
func (n *Node) Start(ctx context.Context) error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.Phase() != PhaseInit {
		return errors.New("node: already started")
	}

	// Shutdown during startup aborts any wait in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(n.abortCtx, cancel)
	defer stop()

	n.logger.Info().
		Str("network", string(n.cfg.Network)).
		Str("datadir", n.cfg.DataDir).
		Str("version", config.Version).
		Msg("Starting Klingnet staking node")

	steps := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseStoreReady, n.openStore},
		{PhaseMigrated, n.migrate},
		{PhaseCredentialsLoaded, n.loadCredentials},
		{PhaseRPCReady, n.connectChain},
		{PhaseTransportBuilt, n.buildTransport},
		{PhaseAPIBound, n.bindAPI},
		{PhaseStatusBound, n.bindStatus},
		{PhaseWorkerStarted, n.startWorker},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			n.logger.Error().Err(err).Str("phase", step.phase.String()).Msg("Startup failed")
			return &StartupError{Phase: step.phase, Err: err}
		}
		if step.phase == PhaseMigrated && !n.cfg.Store.AutoMigrate {
			continue
		}
		n.setPhase(step.phase)
	}

	n.group.Go(n.runHeartbeat)

	n.logger.Info().
		Bool("staking", n.identity.Staking()).
		Str("api", n.APIAddr()).
		Msg("Node started, waiting for worker")
	return nil
}

func (n *Node) openStore(ctx context.Context) error {
	db := n.opts.store
	if db == nil {
		var err error
		db, err = storage.NewBadger(n.cfg.StoreDir())
		if err != nil {
			return fmt.Errorf("open store at %s: %w", n.cfg.StoreDir(), err)
		}
	}
	n.store = storage.NewGated(db)
	n.ledger = ledger.NewStore(n.store)

	if !gate.WaitForStore(ctx, n.store, n.cfg.Store.WaitAttempts, n.opts.waitInterval) {
		return ErrStoreUnreachable
	}
	n.logger.Info().Str("path", n.cfg.StoreDir()).Msg("Store ready")
	return nil
}

func (n *Node) migrate(context.Context) error {
	if !n.cfg.Store.AutoMigrate {
		n.logger.Debug().Msg("Automatic migration disabled")
		return nil
	}
	if _, err := n.ledger.Migrate(); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// loadCredentials never fails: without usable credentials the node runs
// with staking disabled.
func (n *Node) loadCredentials(context.Context) error {
	id, err := wallet.LoadIdentity(n.cfg.SettingsFile())
	if err != nil {
		n.logger.Warn().Err(err).Str("path", n.cfg.SettingsFile()).Msg("Credentials unavailable, staking disabled")
		n.reporter.Report(err, "credentials")
		id = &wallet.Identity{}
	}
	n.identity = id
	if id.Staking() {
		n.logger.Info().Str("cold_wallet", id.ColdWallet.String()).Msg("Staking identity loaded")
	}
	return nil
}

func (n *Node) connectChain(ctx context.Context) error {
	if n.opts.chain != nil {
		n.chain = n.opts.chain
	} else {
		n.chain = rpcclient.New(n.cfg.Chain.RPC)
	}
	info, err := gate.WaitForChain(ctx, n.chain, gate.RetryPolicy{
		MaxAttempts: n.cfg.Chain.WaitAttempts,
		Interval:    n.opts.waitInterval,
		Timeout:     n.cfg.Chain.WaitTimeout,
	})
	if err != nil {
		return err
	}
	n.chainInfo = info
	return nil
}

func (n *Node) buildTransport(context.Context) error {
	n.transport = n.opts.httpClient
	if n.transport == nil {
		n.transport = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}}
	}
	n.hbMetric = heartbeat.NewMetrics(n.registry)

	hb, err := heartbeat.New(heartbeat.Config{
		Host:         n.cfg.Staking.Host,
		Challenge:    n.cfg.Staking.Challenge,
		Version:      config.Version,
		Identity:     n.identity,
		Source:       n,
		Client:       n.transport,
		Clock:        n.opts.clock,
		Reporter:     n.reporter,
		Metrics:      n.hbMetric,
		StatusFile:   n.cfg.HeartbeatFile(),
		DowntimeFile: n.cfg.DowntimeLog(),
	})
	if err != nil {
		return err
	}
	n.hb = hb
	return nil
}

func (n *Node) bindAPI(context.Context) error {
	apiCfg := n.cfg.API
	apiCfg.TLSCert = expandHome(apiCfg.TLSCert)
	apiCfg.TLSKey = expandHome(apiCfg.TLSKey)

	srv := api.New(listenAddr(n.cfg.API.Addr, n.cfg.API.Port), apiCfg)
	srv.SetNode(n)
	srv.SetTrades(n.ledger)
	if err := srv.Start(); err != nil {
		return err
	}
	n.api = srv
	return nil
}

func (n *Node) bindStatus(context.Context) error {
	if n.cfg.Status.Port <= 0 {
		n.logger.Debug().Msg("Status listener disabled")
		return nil
	}
	srv := status.New(listenAddr(n.cfg.Status.Addr, n.cfg.Status.Port), n.registry)
	srv.SetSource(n.CurrentBlock)
	if err := srv.Start(); err != nil {
		return err
	}
	n.status = srv
	return nil
}

func (n *Node) startWorker(context.Context) error {
	latest, found, err := n.ledger.LatestTradeBlock()
	if err != nil {
		return fmt.Errorf("read latest trade: %w", err)
	}
	genesis := n.cfg.Scanner.GenesisBlock
	force := n.cfg.Scanner.ForceResync
	if force {
		if err := n.ledger.Reset(); err != nil {
			return err
		}
		n.logger.Warn().Uint64("genesis", genesis).Msg("Forced resync, recorded trades cleared")
	}
	start := ResumeBlock(latest, found, genesis, force)

	var watch []types.Address
	if n.identity.ColdWallet != nil {
		watch = append(watch, *n.identity.ColdWallet)
	}

	w, err := n.opts.workerFactory(scanner.Config{
		Source:       n.chain,
		Ledger:       n.ledger,
		Watch:        watch,
		StartBlock:   start,
		PollInterval: n.cfg.Scanner.PollInterval,
		Reporter:     n.reporter,
		Registerer:   n.registry,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	n.workerMu.Lock()
	n.worker = w
	n.workerMu.Unlock()

	if err := w.Start(n.ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	n.logger.Info().
		Uint64("start_block", start).
		Bool("resumed", found && !force).
		Msg("Worker started")
	return nil
}

// runHeartbeat waits for the worker's readiness signal and then runs the
// heartbeat until shutdown. It is the only caller of Engine.Run.
func (n *Node) runHeartbeat() error {
	n.workerMu.RLock()
	w := n.worker
	n.workerMu.RUnlock()

	select {
	case <-w.Ready():
	case <-n.ctx.Done():
		return nil
	}
	n.setPhase(PhaseWorkerReady)
	n.logger.Info().Uint64("block", w.CurrentBlock()).Msg("Worker ready")

	n.api.SetHeartbeat(n.hb)
	n.setPhase(PhaseHeartbeatActive)
	if err := n.hb.Run(n.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setPhase advances the phase, never moving it backwards.
func (n *Node) setPhase(p Phase) {
	for {
		cur := n.phase.Load()
		if Phase(cur) >= p {
			return
		}
		if n.phase.CompareAndSwap(cur, int32(p)) {
			n.logger.Debug().Str("phase", p.String()).Msg("Phase reached")
			return
		}
	}
}

// Phase returns the current lifecycle phase.
func (n *Node) Phase() Phase {
	return Phase(n.phase.Load())
}

// CurrentBlock returns the worker's progress, or 0 before it exists.
func (n *Node) CurrentBlock() uint64 {
	n.workerMu.RLock()
	defer n.workerMu.RUnlock()
	if n.worker == nil {
		return 0
	}
	return n.worker.CurrentBlock()
}

// Info implements api.NodeSource.
func (n *Node) Info() api.NodeInfo {
	info := api.NodeInfo{
		Version:       config.Version,
		Network:       string(n.cfg.Network),
		Phase:         n.Phase().String(),
		Staking:       n.identity.Staking(),
		CurrentBlock:  n.CurrentBlock(),
		ChainEndpoint: n.cfg.Chain.RPC,
	}
	if n.identity != nil && n.identity.ColdWallet != nil {
		info.ColdWallet = n.identity.ColdWallet.String()
	}
	if n.chainInfo != nil {
		info.ChainID = n.chainInfo.ChainID
	}
	return info
}

// APIAddr returns the API listener address, or "" when not bound.
func (n *Node) APIAddr() string {
	if n.api == nil {
		return ""
	}
	return n.api.Addr()
}

// StatusAddr returns the status listener address, or "" when not bound.
func (n *Node) StatusAddr() string {
	if n.status == nil {
		return ""
	}
	return n.status.Addr()
}

// Heartbeat returns the heartbeat engine, nil before TRANSPORT_BUILT.
func (n *Node) Heartbeat() *heartbeat.Engine {
	return n.hb
}

// Registry returns the node's metrics registry.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}
