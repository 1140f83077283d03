// Package signer implements the Crypto/Signer Adapter: digest signing
// under either a locally held key or an external threshold-signing
// service, both exposing the same ECDSA-over-secp256k1 interface. It
// generalizes the reference chain-adapter's Signer interface
// (src/chainadapter/signer.go), which signed chain-specific payloads for
// one address, into "sign a 32-byte digest, derive one EVM address".
package signer

import (
	"context"
	"sync"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// Signature is the 65-byte r||s||v ECDSA signature the BTFBridge
// contract expects, with v normalized to {27, 28}.
type Signature [65]byte

// Signer produces signatures over 32-byte digests and exposes the
// derived EVM address. Implementations guarantee v normalization and
// low-s canonicalization, and cache the derived address after first
// retrieval.
type Signer interface {
	// Address returns the 20-byte EVM address this signer controls.
	Address(ctx context.Context) ([20]byte, error)

	// Sign signs a 32-byte keccak256 digest. Managed signers may fail
	// with a chainerr carrying CodeSignerUnavailable (Transient) when
	// the threshold service is unreachable.
	Sign(ctx context.Context, digest [32]byte) (Signature, error)
}

// addressCache caches a derived address after the first successful
// lookup, matching the spec's "Derived address is cached after first
// retrieval" requirement.
type addressCache struct {
	mu      sync.Mutex
	cached  bool
	address [20]byte
}

func (c *addressCache) get(derive func() ([20]byte, error)) ([20]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached {
		return c.address, nil
	}
	addr, err := derive()
	if err != nil {
		return [20]byte{}, err
	}
	c.address = addr
	c.cached = true
	return addr, nil
}

// normalizeV folds a raw recovery id (0 or 1, as returned by most
// secp256k1 libraries) into Ethereum's {27, 28} convention.
func normalizeV(recID byte) byte {
	if recID == 0 || recID == 1 {
		return recID + 27
	}
	return recID
}

var errUnsupportedKeyID = chainerr.New("ERR_UNSUPPORTED_KEY_ID", "unsupported managed key id", chainerr.FatalConfiguration, nil)
