package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// KeyID identifies a key managed by an external threshold-signing
// service. It is a closed set plus an escape hatch for
// deployment-specific names, mirroring the reference repo's closed
// KeySourceType enum (src/chainadapter/keysource.go) generalized with a
// Custom variant for key ids not known at compile time.
type KeyID interface {
	keyIDTag() string
	String() string
}

type stockKeyID string

func (k stockKeyID) keyIDTag() string { return string(k) }
func (k stockKeyID) String() string   { return string(k) }

var (
	KeyIDDfx        KeyID = stockKeyID("dfx")
	KeyIDProduction KeyID = stockKeyID("production")
	KeyIDTest       KeyID = stockKeyID("test")
	KeyIDPocketIC   KeyID = stockKeyID("pocket_ic")
)

// CustomKeyID names a key id not covered by the stock set.
type CustomKeyID string

func (k CustomKeyID) keyIDTag() string { return "custom:" + string(k) }
func (k CustomKeyID) String() string   { return string(k) }

// ThresholdBackend is the narrow contract the external signing service
// exposes: "sign this digest under this key id". The coordinator never
// sees key material; this is the full surface it is allowed to depend
// on, per the spec's explicit out-of-scope boundary for the signing
// backend.
type ThresholdBackend interface {
	SignDigest(ctx context.Context, keyID KeyID, digest [32]byte) (sigRS [64]byte, recoveryID byte, err error)
	PublicAddress(ctx context.Context, keyID KeyID) ([20]byte, error)
}

// ManagedSigner signs via an external threshold-signing service.
// Signing is asynchronous from the backend's point of view and may fail
// with a Transient chainerr when the service is unreachable.
type ManagedSigner struct {
	backend ThresholdBackend
	keyID   KeyID
	cache   addressCache
}

func NewManagedSigner(backend ThresholdBackend, keyID KeyID) *ManagedSigner {
	return &ManagedSigner{backend: backend, keyID: keyID}
}

func (s *ManagedSigner) Address(ctx context.Context) ([20]byte, error) {
	return s.cache.get(func() ([20]byte, error) {
		addr, err := s.backend.PublicAddress(ctx, s.keyID)
		if err != nil {
			return [20]byte{}, chainerr.Transientf(chainerr.CodeSignerUnavailable, "threshold service unreachable", nil, err)
		}
		return addr, nil
	})
}

func (s *ManagedSigner) Sign(ctx context.Context, digest [32]byte) (Signature, error) {
	rs, recID, err := s.backend.SignDigest(ctx, s.keyID, digest)
	if err != nil {
		return Signature{}, chainerr.Transientf(chainerr.CodeSignerUnavailable, "threshold sign failed", nil, err)
	}
	var out Signature
	copy(out[:], rs[:])
	out[64] = normalizeV(recID)
	// Canonicalize to low-s: s > N/2 becomes N-s with the recovery id flipped.
	n := crypto.S256().Params().N
	if sv := new(big.Int).SetBytes(out[32:64]); sv.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		sv.Sub(n, sv).FillBytes(out[32:64])
		out[64] = 55 - out[64]
	}
	return out, nil
}
