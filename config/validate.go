package config

import (
	"fmt"
	"net/url"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be in range [0, 65535]")
	}
	if cfg.Status.Port < 0 || cfg.Status.Port > 65535 {
		return fmt.Errorf("status.port must be in range [0, 65535]")
	}
	if cfg.API.TLS && (cfg.API.TLSKey == "" || cfg.API.TLSCert == "") {
		return fmt.Errorf("api.tls requires api.tls_key and api.tls_cert")
	}

	if cfg.Store.WaitAttempts <= 0 {
		cfg.Store.WaitAttempts = DefaultStoreWaitAttempts
	}
	if cfg.Scanner.GenesisBlock == 0 {
		cfg.Scanner.GenesisBlock = ScanGenesis(cfg.Network)
	}
	if cfg.Scanner.PollInterval <= 0 {
		return fmt.Errorf("scanner.poll_interval must be positive")
	}
	if cfg.Chain.WaitAttempts < 0 {
		return fmt.Errorf("chain.wait_attempts must not be negative")
	}
	if cfg.Chain.WaitTimeout < 0 {
		return fmt.Errorf("chain.wait_timeout must not be negative")
	}
	if cfg.Node.ShutdownTimeout <= 0 {
		return fmt.Errorf("node.shutdown_timeout must be positive")
	}

	if err := validateURL(cfg.Chain.RPC, "chain.rpc"); err != nil {
		return err
	}
	if err := validateURL(cfg.Staking.Host, "staking.host"); err != nil {
		return err
	}

	return nil
}

func validateURL(raw, field string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}
