package wallet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SettingsVersion is the settings record format written by this build.
const SettingsVersion = 1

// TokenEnv overrides the passphrase stored in the settings record.
const TokenEnv = "KLINGNET_WALLET_TOKEN"

// ErrSettingsNotFound is returned when no settings record exists.
var ErrSettingsNotFound = errors.New("staking settings not found")

// Settings is the on-disk staking settings record.
type Settings struct {
	Version    int    `json:"version"`
	ColdWallet string `json:"cold_wallet"`
	HotWallet  string `json:"hot_wallet"` // base64 of an Encrypt blob holding the BIP-39 seed
	Token      string `json:"token,omitempty"`
}

// ReadSettings loads a settings record from path.
func ReadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.Version != SettingsVersion {
		return nil, fmt.Errorf("settings %s: unsupported version %d", path, s.Version)
	}
	return &s, nil
}

// WriteSettings atomically replaces the record at path (mode 0600).
func WriteSettings(path string, s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// CreateSettings encrypts seed under token and writes a new record.
// coldWallet may be empty for a node that does not stake. The token is
// stored in the record; clear it afterwards to rely on TokenEnv instead.
func CreateSettings(path, coldWallet string, seed, token []byte, params EncryptionParams) (*Settings, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	if len(token) == 0 {
		return nil, fmt.Errorf("empty wallet passphrase")
	}
	if coldWallet != "" {
		if _, err := parseColdWallet(coldWallet); err != nil {
			return nil, err
		}
	}

	blob, err := Encrypt(seed, token, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt hot wallet: %w", err)
	}
	s := &Settings{
		Version:    SettingsVersion,
		ColdWallet: coldWallet,
		HotWallet:  base64.StdEncoding.EncodeToString(blob),
		Token:      string(token),
	}
	if err := WriteSettings(path, s); err != nil {
		return nil, err
	}
	return s, nil
}
