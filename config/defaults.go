package config

import "time"

// Per-network first block the scanner cares about. Trades cannot exist
// below it, so a forced resync restarts here.
const (
	MainnetScanGenesis uint64 = 1
	TestnetScanGenesis uint64 = 1
)

// Connectivity defaults.
const (
	DefaultStoreWaitAttempts = 10
	StoreWaitInterval        = 2 * time.Second
	ChainWaitInterval        = 2 * time.Second
)

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		API: APIConfig{
			Addr:       "127.0.0.1",
			Port:       8555,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Status: StatusConfig{
			Addr: "127.0.0.1",
		},
		Store: StoreConfig{
			AutoMigrate:  true,
			WaitAttempts: DefaultStoreWaitAttempts,
		},
		Scanner: ScannerConfig{
			GenesisBlock: MainnetScanGenesis,
			PollInterval: 5 * time.Second,
		},
		Chain: ChainConfig{
			RPC: "http://127.0.0.1:8545",
		},
		Staking: StakingConfig{
			Host: "https://staking.klingnet.io",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Node: NodeConfig{
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.API.Port = 8655
	cfg.Scanner.GenesisBlock = TestnetScanGenesis
	cfg.Chain.RPC = "http://127.0.0.1:8645"
	cfg.Staking.Host = "https://staking-testnet.klingnet.io"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}

// ScanGenesis returns the network's first block of interest.
func ScanGenesis(network NetworkType) uint64 {
	if network == Testnet {
		return TestnetScanGenesis
	}
	return MainnetScanGenesis
}
