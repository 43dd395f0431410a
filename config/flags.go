package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Version is reported by --version.
const Version = "0.1.0"

// EnvFile is the dotenv file loaded from the working directory, if present.
const EnvFile = ".env"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	Testnet bool
	DataDir string
	Config  string
	EnvFile string

	// API
	APIAddr    string
	APIPort    int
	APIAllowed string
	APICORS    string
	APITLS     bool
	APITLSKey  string
	APITLSCert string

	// Status
	StatusAddr string
	StatusPort int

	// Store
	AutoMigrate bool

	// Scanner
	ForceResync  bool
	GenesisBlock uint64
	PollInterval time.Duration

	// Chain
	ChainRPC          string
	ChainWaitAttempts int
	ChainWaitTimeout  time.Duration

	// Staking
	StakingHost      string
	StakingChallenge string

	// Reporting
	NoReport bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Lifecycle
	ShutdownTimeout time.Duration

	// Remaining args
	Args []string

	// Explicitly-set flags (for true/false and zero-value overrides).
	SetAPITLS            bool
	SetAutoMigrate       bool
	SetForceResync       bool
	SetGenesisBlock      bool
	SetChainWaitAttempts bool
	SetNoReport          bool
	SetLogJSON           bool
}

// ParseFlags parses os.Args, exiting on parse errors.
func ParseFlags() *Flags {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

func parseFlags(args []string, errOut io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingstaked", flag.ContinueOnError)
	fs.SetOutput(errOut)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolVar(&f.Testnet, "testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.EnvFile, "env-file", EnvFile, "Dotenv file to load before reading configuration")

	// API
	fs.StringVar(&f.APIAddr, "api-addr", "", "API listen address")
	fs.IntVar(&f.APIPort, "api-port", 0, "API listen port")
	fs.StringVar(&f.APIAllowed, "api-allowed", "", "Allowed IPs for the API (comma-separated)")
	fs.StringVar(&f.APICORS, "api-cors", "", "Allowed CORS origins for the API (comma-separated)")
	fs.BoolVar(&f.APITLS, "api-tls", false, "Serve the API over TLS")
	fs.StringVar(&f.APITLSKey, "api-tls-key", "", "TLS private key file")
	fs.StringVar(&f.APITLSCert, "api-tls-cert", "", "TLS certificate file")

	// Status
	fs.StringVar(&f.StatusAddr, "status-addr", "", "Status listen address")
	fs.IntVar(&f.StatusPort, "status-port", 0, "Status listen port (0 = disabled)")

	// Store
	fs.BoolVar(&f.AutoMigrate, "automigrate", true, "Apply store migrations on startup")

	// Scanner
	fs.BoolVar(&f.ForceResync, "force-resync", false, "Rescan from the network's first block of interest")
	fs.Uint64Var(&f.GenesisBlock, "genesis-block", 0, "First block of interest")
	fs.DurationVar(&f.PollInterval, "poll-interval", 0, "Chain polling interval")

	// Chain
	fs.StringVar(&f.ChainRPC, "chain-rpc", "", "Chain node JSON-RPC URL")
	fs.IntVar(&f.ChainWaitAttempts, "chain-wait-attempts", 0, "Attempts to reach the chain node before giving up (0 = forever)")
	fs.DurationVar(&f.ChainWaitTimeout, "chain-wait-timeout", 0, "Overall deadline for reaching the chain node")

	// Staking
	fs.StringVar(&f.StakingHost, "staking-host", "", "Staking authority base URL")
	fs.StringVar(&f.StakingChallenge, "staking-challenge", "", "Challenge string bound into keepalive signatures")

	// Reporting
	fs.BoolVar(&f.NoReport, "no-report", false, "Disable the error-reporting sink")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	// Lifecycle
	fs.DurationVar(&f.ShutdownTimeout, "shutdown-timeout", 0, "Grace period for shutdown")

	fs.Usage = func() {
		printUsage(errOut)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.Testnet {
		f.Network = string(Testnet)
	}
	f.SetAPITLS = isFlagSet(fs, "api-tls")
	f.SetAutoMigrate = isFlagSet(fs, "automigrate")
	f.SetForceResync = isFlagSet(fs, "force-resync")
	f.SetGenesisBlock = isFlagSet(fs, "genesis-block")
	f.SetChainWaitAttempts = isFlagSet(fs, "chain-wait-attempts")
	f.SetNoReport = isFlagSet(fs, "no-report")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything flag-like after it
	// was silently ignored.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// API
	if f.APIAddr != "" {
		cfg.API.Addr = f.APIAddr
	}
	if f.APIPort != 0 {
		cfg.API.Port = f.APIPort
	}
	if f.APIAllowed != "" {
		cfg.API.AllowedIPs = parseStringList(f.APIAllowed)
	}
	if f.APICORS != "" {
		cfg.API.CORSOrigins = parseStringList(f.APICORS)
	}
	if f.SetAPITLS {
		cfg.API.TLS = f.APITLS
	}
	if f.APITLSKey != "" {
		cfg.API.TLSKey = f.APITLSKey
	}
	if f.APITLSCert != "" {
		cfg.API.TLSCert = f.APITLSCert
	}

	// Status
	if f.StatusAddr != "" {
		cfg.Status.Addr = f.StatusAddr
	}
	if f.StatusPort != 0 {
		cfg.Status.Port = f.StatusPort
	}

	// Store
	if f.SetAutoMigrate {
		cfg.Store.AutoMigrate = f.AutoMigrate
	}

	// Scanner
	if f.SetForceResync {
		cfg.Scanner.ForceResync = f.ForceResync
	}
	if f.SetGenesisBlock {
		cfg.Scanner.GenesisBlock = f.GenesisBlock
	}
	if f.PollInterval != 0 {
		cfg.Scanner.PollInterval = f.PollInterval
	}

	// Chain
	if f.ChainRPC != "" {
		cfg.Chain.RPC = f.ChainRPC
	}
	if f.SetChainWaitAttempts {
		cfg.Chain.WaitAttempts = f.ChainWaitAttempts
	}
	if f.ChainWaitTimeout != 0 {
		cfg.Chain.WaitTimeout = f.ChainWaitTimeout
	}

	// Staking
	if f.StakingHost != "" {
		cfg.Staking.Host = strings.TrimRight(f.StakingHost, "/")
	}
	if f.StakingChallenge != "" {
		cfg.Staking.Challenge = f.StakingChallenge
	}

	// Reporting
	if f.SetNoReport {
		cfg.Report.Disabled = f.NoReport
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}

	// Lifecycle
	if f.ShutdownTimeout != 0 {
		cfg.Node.ShutdownTimeout = f.ShutdownTimeout
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage(w io.Writer) {
	usage := `Klingnet Staker - supervised staking node

Usage:
  klingstaked [options]
  klingstaked --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingstake)
  --config, -c    Config file path (default: <datadir>/klingstake.conf)
  --env-file      Dotenv file loaded before configuration (default: .env)

API Options:
  --api-addr      API listen address (default: 127.0.0.1)
  --api-port      API port (mainnet: 8555, testnet: 8655)
  --api-allowed   Allowed IPs for the API (comma-separated)
  --api-cors      Allowed CORS origins (comma-separated)
  --api-tls       Serve the API over TLS
  --api-tls-key   TLS private key file
  --api-tls-cert  TLS certificate file

Status Options:
  --status-addr   Status listen address (default: 127.0.0.1)
  --status-port   Status port; the endpoint is off when unset

Store Options:
  --automigrate   Apply store migrations on startup (default: true)

Scanner Options:
  --force-resync   Rescan from the first block of interest
  --genesis-block  First block of interest
  --poll-interval  Chain polling interval (default: 5s)

Chain Options:
  --chain-rpc            Chain node JSON-RPC URL
  --chain-wait-attempts  Attempts before giving up on the chain node (0 = forever)
  --chain-wait-timeout   Overall deadline for reaching the chain node

Staking Options:
  --staking-host       Staking authority base URL
  --staking-challenge  Challenge bound into keepalive signatures

Other Options:
  --no-report         Disable the error-reporting sink
  --log-level         Log level: debug, info, warn, error (default: info)
  --log-file          Log file path (default: stdout)
  --log-json          Output logs as JSON
  --shutdown-timeout  Grace period for shutdown (default: 15s)

Environment:
  KLINGNET_WALLET_TOKEN  Hot wallet passphrase (overrides settings.json)

Examples:
  # Start a mainnet staker
  klingstaked

  # Start on testnet with the status endpoint enabled
  klingstaked --testnet --status-port=9100

  # Rebuild the trade ledger from scratch
  klingstaked --force-resync
`
	fmt.Fprint(w, usage)
}

// LoadEnv loads a dotenv file into the process environment. A missing
// file is not an error; variables already set are left untouched.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. .env file (process environment)
// 3. Auto-create data dirs + default config (idempotent)
// 4. Config file
// 5. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingstaked version " + Version)
		os.Exit(0)
	}

	cfg, err := LoadWithFlags(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// LoadWithFlags builds the configuration from already-parsed flags.
func LoadWithFlags(flags *Flags) (*Config, error) {
	if err := LoadEnv(flags.EnvFile); err != nil {
		return nil, err
	}

	// Determine network first (needed for defaults)
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads config from defaults + conf file only (no CLI flags).
// Used by klingstake-cli, which shares the daemon's data directory.
func LoadFromFile(dataDir string, network NetworkType) (*Config, error) {
	cfg := Default(network)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	// The conf file may name a different network than the caller asked for.
	cfg.Network = network
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.StoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
