package wallet

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

// Identity is the node's staking identity. A nil ColdWallet means the node
// does not participate in staking.
type Identity struct {
	ColdWallet *types.Address
	Hot        *crypto.PrivateKey
}

// Staking reports whether the identity can sign keepalives.
func (id *Identity) Staking() bool {
	return id != nil && id.ColdWallet != nil && id.Hot != nil
}

// Zero wipes the hot key. The identity is unusable afterwards.
func (id *Identity) Zero() {
	if id == nil || id.Hot == nil {
		return
	}
	id.Hot.Zero()
	id.Hot = nil
}

// LoadIdentity reads the settings record at path and unlocks the hot key.
//
// The passphrase comes from TokenEnv when set, otherwise from the record.
// Either way it is wiped before returning and TokenEnv is removed from the
// process environment, whatever the outcome.
func LoadIdentity(path string) (*Identity, error) {
	envToken, fromEnv := os.LookupEnv(TokenEnv)
	os.Unsetenv(TokenEnv)

	s, err := ReadSettings(path)
	if err != nil {
		return nil, err
	}

	var token []byte
	if fromEnv && envToken != "" {
		token = []byte(envToken)
	} else {
		token = []byte(s.Token)
	}
	s.Token = ""
	defer zero(token)

	if s.ColdWallet == "" {
		log.Wallet.Info().Msg("No cold wallet configured, staking disabled")
		return &Identity{}, nil
	}
	cold, err := parseColdWallet(s.ColdWallet)
	if err != nil {
		return nil, err
	}
	if len(token) == 0 {
		return nil, fmt.Errorf("no wallet passphrase (set %s or token in settings)", TokenEnv)
	}

	blob, err := base64.StdEncoding.DecodeString(s.HotWallet)
	if err != nil {
		return nil, fmt.Errorf("decode hot wallet: %w", err)
	}
	seed, err := Decrypt(blob, token)
	if err != nil {
		return nil, fmt.Errorf("unlock hot wallet: %w", err)
	}
	defer zero(seed)

	hot, err := StakingKey(seed)
	if err != nil {
		return nil, fmt.Errorf("derive staking key: %w", err)
	}

	log.Wallet.Info().
		Str("cold_wallet", cold.String()).
		Str("hot_wallet", crypto.AddressFromPubKey(hot.PublicKey()).String()).
		Msg("Staking identity loaded")
	return &Identity{ColdWallet: &cold, Hot: hot}, nil
}

func parseColdWallet(s string) (types.Address, error) {
	addr, err := types.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return types.Address{}, fmt.Errorf("cold wallet %q: %w", s, err)
	}
	if addr.IsZero() {
		return types.Address{}, fmt.Errorf("cold wallet is the zero address")
	}
	return addr, nil
}
