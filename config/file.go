package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// API
	case "api.addr":
		cfg.API.Addr = value
	case "api.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.API.Port = port
	case "api.allowed":
		cfg.API.AllowedIPs = parseStringList(value)
	case "api.cors":
		cfg.API.CORSOrigins = parseStringList(value)
	case "api.tls":
		cfg.API.TLS = parseBool(value)
	case "api.tls_key":
		cfg.API.TLSKey = value
	case "api.tls_cert":
		cfg.API.TLSCert = value

	// Status
	case "status.addr":
		cfg.Status.Addr = value
	case "status.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Status.Port = port

	// Store
	case "store.automigrate":
		cfg.Store.AutoMigrate = parseBool(value)
	case "store.wait_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Store.WaitAttempts = n

	// Scanner
	case "scanner.force_resync":
		cfg.Scanner.ForceResync = parseBool(value)
	case "scanner.genesis_block":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Scanner.GenesisBlock = n
	case "scanner.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Scanner.PollInterval = d

	// Chain
	case "chain.rpc":
		cfg.Chain.RPC = value
	case "chain.wait_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Chain.WaitAttempts = n
	case "chain.wait_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Chain.WaitTimeout = d

	// Staking
	case "staking.host":
		cfg.Staking.Host = strings.TrimRight(value, "/")
	case "staking.challenge":
		cfg.Staking.Challenge = value

	// Reporting
	case "report.disabled":
		cfg.Report.Disabled = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	// Lifecycle
	case "node.shutdown_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Node.ShutdownTimeout = d

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# Klingnet Staker Configuration
#
# Flags given on the command line override values in this file.
# The wallet passphrase may also be supplied through KLINGNET_WALLET_TOKEN
# (for example in a .env file next to the binary).

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingstake)
# datadir = ~/.klingstake

# ============================================================================
# JSON-RPC API
# ============================================================================

api.addr = 127.0.0.1
api.port = ` + strconv.Itoa(def.API.Port) + `
api.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# api.cors = http://localhost:3000

# Serve the API over TLS
# api.tls = false
# api.tls_key = /path/to/key.pem
# api.tls_cert = /path/to/cert.pem

# ============================================================================
# Status endpoint (GET /status, /metrics). Disabled when port is 0.
# ============================================================================

# status.addr = 127.0.0.1
# status.port = 9100

# ============================================================================
# Store
# ============================================================================

store.automigrate = true
# store.wait_attempts = 10

# ============================================================================
# Chain scanner
# ============================================================================

# Rescan from the first block of interest instead of the last stored trade
# scanner.force_resync = false
# scanner.genesis_block = ` + strconv.FormatUint(def.Scanner.GenesisBlock, 10) + `
# scanner.poll_interval = 5s

# ============================================================================
# Chain node
# ============================================================================

chain.rpc = ` + def.Chain.RPC + `
# Give up waiting for the chain node after this many attempts (0 = never)
# chain.wait_attempts = 0
# chain.wait_timeout = 0s

# ============================================================================
# Staking authority
# ============================================================================

staking.host = ` + def.Staking.Host + `
# staking.challenge =

# ============================================================================
# Error reporting
# ============================================================================

# report.disabled = false

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false

# ============================================================================
# Lifecycle
# ============================================================================

# node.shutdown_timeout = 15s
`
	return os.WriteFile(path, []byte(content), 0644)
}
