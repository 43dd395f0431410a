package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-staker/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 path of the keepalive signing key: m/44'/8888'/0'/0/0.
const (
	PurposeBIP44     = bip32.FirstHardenedChild + 44
	CoinTypeKlingnet = bip32.FirstHardenedChild + 8888
	StakingAccount   = bip32.FirstHardenedChild + 0
	ChangeExternal   = 0
	StakingIndex     = 0
)

// StakingPath is the derivation path of the hot signing key.
var StakingPath = []uint32{PurposeBIP44, CoinTypeKlingnet, StakingAccount, ChangeExternal, StakingIndex}

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath walks the given child indices from k.
// Hardened indices include bip32.FirstHardenedChild.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// privateKeyBytes returns the 32-byte secret, or nil for a public key.
func (k *HDKey) privateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 stores private keys as 33 bytes with a leading 0x00.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Signer returns the secp256k1 key behind k and wipes k's copy.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.privateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	signer, err := crypto.PrivateKeyFromBytes(priv)
	zero(k.key.Key)
	return signer, err
}

// Address derives the Klingnet address of k's public key.
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.key.PublicKey().Key)
}

// StakingKey derives the keepalive signing key from a BIP-39 seed.
func StakingKey(seed []byte) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	defer zero(master.key.Key)
	child, err := master.DerivePath(StakingPath...)
	if err != nil {
		return nil, err
	}
	return child.Signer()
}
