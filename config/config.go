// Package config handles klingstaked configuration.
//
// Settings come from, in increasing precedence: built-in network defaults,
// an optional .env file, the <datadir>/klingstake.conf file and
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds the supervisor's runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Primary JSON-RPC listener
	API APIConfig

	// Status/metrics listener
	Status StatusConfig

	// Persistent store
	Store StoreConfig

	// Chain-scanning worker
	Scanner ScannerConfig

	// Upstream chain node
	Chain ChainConfig

	// Staking authority
	Staking StakingConfig

	// Error-reporting sink
	Report ReportConfig

	// Logging
	Log LogConfig

	// Process lifecycle
	Node NodeConfig
}

// APIConfig holds primary listener settings.
type APIConfig struct {
	Addr        string   `conf:"api.addr"`
	Port        int      `conf:"api.port"`
	AllowedIPs  []string `conf:"api.allowed"`
	CORSOrigins []string `conf:"api.cors"` // Allowed CORS origins ("*" = all).
	TLS         bool     `conf:"api.tls"`
	TLSKey      string   `conf:"api.tls_key"`
	TLSCert     string   `conf:"api.tls_cert"`
}

// StatusConfig holds status listener settings. Port 0 disables the listener.
type StatusConfig struct {
	Addr string `conf:"status.addr"`
	Port int    `conf:"status.port"`
}

// StoreConfig holds persistent store settings.
type StoreConfig struct {
	AutoMigrate  bool `conf:"store.automigrate"`
	WaitAttempts int  `conf:"store.wait_attempts"`
}

// ScannerConfig holds chain-scanning worker settings.
type ScannerConfig struct {
	ForceResync  bool          `conf:"scanner.force_resync"`
	GenesisBlock uint64        `conf:"scanner.genesis_block"` // First block of interest.
	PollInterval time.Duration `conf:"scanner.poll_interval"`
}

// ChainConfig holds upstream chain node settings.
type ChainConfig struct {
	RPC          string        `conf:"chain.rpc"`
	WaitAttempts int           `conf:"chain.wait_attempts"` // 0 = retry forever
	WaitTimeout  time.Duration `conf:"chain.wait_timeout"`  // 0 = no deadline
}

// StakingConfig holds staking authority settings.
type StakingConfig struct {
	Host      string `conf:"staking.host"`
	Challenge string `conf:"staking.challenge"`
}

// ReportConfig holds error-reporting settings.
type ReportConfig struct {
	Disabled bool `conf:"report.disabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// NodeConfig holds process lifecycle settings.
type NodeConfig struct {
	ShutdownTimeout time.Duration `conf:"node.shutdown_timeout"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingstake
//	macOS:   ~/Library/Application Support/Klingstake
//	Windows: %APPDATA%\Klingstake
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingstake"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingstake")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingstake")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingstake")
	default:
		return filepath.Join(home, ".klingstake")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// StoreDir returns the badger database directory.
func (c *Config) StoreDir() string {
	return filepath.Join(c.ChainDataDir(), "store")
}

// SettingsFile returns the path of the staking settings record.
func (c *Config) SettingsFile() string {
	return filepath.Join(c.ChainDataDir(), "settings.json")
}

// HeartbeatFile returns the path of the last-heartbeat status artifact.
func (c *Config) HeartbeatFile() string {
	return filepath.Join(c.ChainDataDir(), "heartbeat.json")
}

// DowntimeLog returns the path of the append-only downtime log.
func (c *Config) DowntimeLog() string {
	return filepath.Join(c.ChainDataDir(), "downtime.log")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingstake.conf")
}
