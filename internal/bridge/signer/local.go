package signer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// LocalSigner holds a private key in memory and signs synchronously,
// generalizing the reference repo's MnemonicKeySource.GetEthereumPrivateKey
// (src/chainadapter/keysource_impl.go) directly into a Signer: instead of
// handing callers a raw *ecdsa.PrivateKey, it signs digests itself and
// never exposes key material.
type LocalSigner struct {
	key   *ecdsa.PrivateKey
	cache addressCache
}

// NewLocalSignerFromMnemonic derives the minter's secp256k1 key from a
// BIP39 mnemonic at the given BIP44 path (conventionally
// m/44'/60'/0'/0/0 for the coordinator's own EVM signing key).
func NewLocalSignerFromMnemonic(mnemonic, passphrase, path string) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, chainerr.Deterministic(chainerr.CodeInvalidPath, "invalid BIP39 mnemonic", nil)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, chainerr.Deterministic(chainerr.CodeInvalidPath, "failed to derive master key", err)
	}
	derived, err := derivePath(master, path)
	if err != nil {
		return nil, err
	}
	ecdsaKey, err := crypto.ToECDSA(derived.Key)
	if err != nil {
		return nil, chainerr.Deterministic(chainerr.CodeInvalidPath, "failed to convert derived key to ECDSA", err)
	}
	return NewLocalSignerFromKey(ecdsaKey), nil
}

// NewLocalSignerFromKey wraps an already-derived key directly (used by
// tests and by operators supplying a raw hex key via AdminConfig's
// signing_strategy: Local(bytes)).
func NewLocalSignerFromKey(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) Address(ctx context.Context) ([20]byte, error) {
	return s.cache.get(func() ([20]byte, error) {
		return crypto.PubkeyToAddress(s.key.PublicKey), nil
	})
}

// Sign signs digest with the local key and returns a 65-byte signature
// with v normalized to {27, 28} and s canonicalized to the lower half of
// the curve order, which crypto.Sign already guarantees for secp256k1.
func (s *LocalSigner) Sign(ctx context.Context, digest [32]byte) (Signature, error) {
	raw, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return Signature{}, chainerr.Deterministic("ERR_SIGNING_FAILED", "local signing failed", err)
	}
	var out Signature
	copy(out[:], raw[:64])
	out[64] = normalizeV(raw[64])
	return out, nil
}

func derivePath(master *bip32.Key, path string) (*bip32.Key, error) {
	indices, err := parseBIP44Path(path)
	if err != nil {
		return nil, err
	}
	key := master
	for _, idx := range indices {
		child, err := key.NewChildKey(idx)
		if err != nil {
			return nil, chainerr.Deterministic(chainerr.CodeInvalidPath, "failed to derive child key", err)
		}
		key = child
	}
	return key, nil
}

// parseBIP44Path parses "m/44'/60'/0'/0/0" into BIP32 child indices,
// following the reference repo's parsePath (src/chainadapter/keysource_impl.go)
// but restricted to what the coordinator's own signing key needs.
func parseBIP44Path(path string) ([]uint32, error) {
	if path == "" || path == "m" {
		return nil, nil
	}
	if len(path) >= 2 && path[:2] == "m/" {
		path = path[2:]
	}
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := false
		if len(part) > 0 && part[len(part)-1] == '\'' {
			hardened = true
			part = part[:len(part)-1]
		}
		var num uint32
		for _, c := range part {
			if c < '0' || c > '9' {
				return nil, chainerr.Deterministic(chainerr.CodeInvalidPath, "invalid path component: "+part, nil)
			}
			num = num*10 + uint32(c-'0')
		}
		if hardened {
			num += bip32.FirstHardenedChild
		}
		indices = append(indices, num)
	}
	return indices, nil
}
