// Package bridge defines the interfaces shared by every base-chain adapter
// and the coordinator that drives them. It intentionally holds no
// variant-specific types: everything chain-specific lives behind
// BaseChainAdapter, mirroring the reference chain-adapter's unified
// ChainAdapter interface (src/chainadapter/adapter.go) generalized from
// "build/sign/broadcast a transaction" to "observe/confirm a deposit, build
// a token id, settle a withdrawal".
package bridge

import (
	"context"
	"math/big"
	"time"
)

// BaseChainKind tags which base-chain family an adapter implements.
type BaseChainKind string

const (
	ChainBitcoin BaseChainKind = "bitcoin"
	ChainBRC20   BaseChainKind = "brc20"
	ChainRunes   BaseChainKind = "runes"
	ChainICRC2   BaseChainKind = "icrc2"
	ChainEVM     BaseChainKind = "evm"
)

// TokenID is the 32-byte tagged union described in the data model: tag
// 0x00 is a length-prefixed principal-style payload, tag 0x01 is
// (chain_id uint32, evm_address 20 bytes).
type TokenID [32]byte

const (
	TagPrincipal byte = 0x00
	TagEVM       byte = 0x01
)

// NewPrincipalTokenID builds a tag-0x00 TokenID from an opaque
// identifier payload of at most 29 bytes (ICRC ledger canister
// principal, BRC-20 ticker, or Rune id).
func NewPrincipalTokenID(payload []byte) (TokenID, error) {
	var id TokenID
	if len(payload) > 29 {
		return id, errTooLong
	}
	id[0] = TagPrincipal
	id[1] = byte(len(payload))
	copy(id[2:], payload)
	return id, nil
}

// NewEVMTokenID builds a tag-0x01 TokenID for a secondary EVM chain's
// ERC-20 token.
func NewEVMTokenID(chainID uint32, evmAddress [20]byte) TokenID {
	var id TokenID
	id[0] = TagEVM
	id[1], id[2], id[3], id[4] = byte(chainID>>24), byte(chainID>>16), byte(chainID>>8), byte(chainID)
	copy(id[5:25], evmAddress[:])
	return id
}

// Tag reports which union arm this TokenID carries.
func (t TokenID) Tag() byte { return t[0] }

// Principal returns the payload of a tag-0x00 TokenID.
func (t TokenID) Principal() []byte {
	n := int(t[1])
	if n > 29 {
		n = 29
	}
	return t[2 : 2+n]
}

// EVMParts returns the chain id and address of a tag-0x01 TokenID.
func (t TokenID) EVMParts() (chainID uint32, addr [20]byte) {
	chainID = uint32(t[1])<<24 | uint32(t[2])<<16 | uint32(t[3])<<8 | uint32(t[4])
	copy(addr[:], t[5:25])
	return
}

type lenErr string

func (e lenErr) Error() string { return string(e) }

const errTooLong = lenErr("principal payload exceeds 29 bytes")

// DepositCandidate is a detected but not-yet-confirmed base-side event:
// either a BurnTokenEvent on the wrapped side or a raw deposit on the
// base chain.
type DepositCandidate struct {
	ChainKind   BaseChainKind
	SourceTx    string // source chain transaction id / hash
	SourceIndex uint32 // output index / log index, disambiguates multiple events per tx
	SenderID    [32]byte
	FromToken   TokenID
	Recipient   [20]byte
	Amount      *big.Int
	Memo        [32]byte
	ObservedAt  time.Time
}

// Key returns the (source_tx, source_index) identity used to dedupe
// operations across restarts (universal invariant 2).
func (d DepositCandidate) Key() string {
	return d.SourceTx + "#" + itoa(uint64(d.SourceIndex))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Confirmation reports how deep a candidate is buried, and for
// Bitcoin-like chains whether the underlying UTXO passes taint rules.
type Confirmation struct {
	Depth      uint32
	Sufficient bool
	TaintOK    bool
}

// WithdrawalInstruction is the reverse-direction payload produced once a
// mint order targeting the base chain has been authorized (base-bound
// flow: burn observed on the wrapped side, release/transfer happens on
// the base chain).
type WithdrawalInstruction struct {
	ToTokenID TokenID
	Recipient []byte // base-chain address bytes, chain-specific encoding
	Amount    *big.Int
	Memo      [32]byte
}

// SettlementReceipt is the base-chain transaction produced by settling a
// withdrawal.
type SettlementReceipt struct {
	TxHash      string
	SubmittedAt time.Time
}

// BaseChainAdapter is the capability set every base-chain family
// implements. The coordinator holds a map of these and is otherwise
// ignorant of chain-specific types, per the "dynamic dispatch over
// bridge variants" design note.
type BaseChainAdapter interface {
	ChainKind() BaseChainKind

	// ObserveDeposits streams newly detected deposit/burn candidates
	// into sink until ctx is cancelled. Implementations MUST be
	// resumable: restarting from a durable checkpoint must not skip or
	// duplicate-deliver past what the caller has already acknowledged
	// (callers are expected to dedupe on DepositCandidate.Key()).
	ObserveDeposits(ctx context.Context, sink chan<- DepositCandidate) error

	// ConfirmDeposit reports confirmation depth and, for UTXO chains,
	// taint status. MUST be idempotent and safe to poll repeatedly.
	ConfirmDeposit(ctx context.Context, c DepositCandidate) (Confirmation, error)

	// BuildTokenID derives this chain's TokenID encoding for an
	// adapter-specific subject (a ticker, a rune id, a canister
	// principal, or an (chain_id, address) pair).
	BuildTokenID(subject any) (TokenID, error)

	// SettleWithdrawal releases or transfers funds on the base chain
	// for a reverse-direction (wrapped -> base) mint. MUST be
	// idempotent: settling the same WithdrawalInstruction twice (same
	// memo) returns the original receipt rather than double-spending.
	SettleWithdrawal(ctx context.Context, w WithdrawalInstruction) (SettlementReceipt, error)
}
