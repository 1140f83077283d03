// Package mintorder implements bit-exact serialization of MintOrders and
// batch envelopes, and the contract's keccak256 digest and ECDSA
// signature convention over them.
//
// The fixed-width layout and truncation rule are dictated entirely by
// the on-chain ABI the coordinator must agree with; there is no teacher
// equivalent for the codec itself, but the digest/signature conventions
// (keccak256, 65-byte r||s||v) reuse go-ethereum/crypto exactly as the
// reference chain-adapter's ethereum.Sign does.
package mintorder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// Field widths, in the order the contract expects them concatenated.
const (
	widthAmount            = 32
	widthSenderID          = 32
	widthFromTokenID       = 32
	widthRecipient         = 20
	widthToERC20           = 20
	widthNonce             = 4
	widthSenderChainID     = 4
	widthRecipientChainID  = 4
	widthName              = 32
	widthSymbol            = 16
	widthDecimals          = 1
	widthApproveSpender    = 20
	widthApproveAmount     = 32
	widthFeePayer          = 20

	// ORDER_BYTES is the fixed length of one encoded order, excluding
	// the signature.
	ORDER_BYTES = widthAmount + widthSenderID + widthFromTokenID + widthRecipient +
		widthToERC20 + widthNonce + widthSenderChainID + widthRecipientChainID +
		widthName + widthSymbol + widthDecimals + widthApproveSpender +
		widthApproveAmount + widthFeePayer

	// SignatureBytes is the fixed length of the trailing r||s||v signature.
	SignatureBytes = 65
)

// MintOrder is the unit of cross-chain authorization described in the
// data model.
type MintOrder struct {
	Amount            *big.Int
	SenderID          [32]byte
	FromTokenID       [32]byte
	Recipient         [20]byte
	ToERC20           [20]byte
	Nonce             uint32
	SenderChainID     uint32
	RecipientChainID  uint32
	Name              [32]byte
	Symbol            [16]byte
	Decimals          uint8
	ApproveSpender    [20]byte
	ApproveAmount     *big.Int
	FeePayer          [20]byte
}

// NewName truncates s to 32 bytes on a UTF-8 code-point boundary and
// zero-pads the remainder, per the codec's truncation rule.
func NewName(s string) [32]byte {
	var out [32]byte
	truncateInto(out[:], s)
	return out
}

// NewSymbol truncates s to 16 bytes on a UTF-8 code-point boundary.
func NewSymbol(s string) [16]byte {
	var out [16]byte
	truncateInto(out[:], s)
	return out
}

// truncateInto copies UTF-8 bytes of s into dst, zero-padding if it
// fits or cutting at the last start-of-code-point byte that fits
// otherwise. A start-of-code-point byte b satisfies (b & 0xC0) != 0x80.
func truncateInto(dst []byte, s string) {
	b := []byte(s)
	if len(b) <= len(dst) {
		copy(dst, b)
		return
	}
	cut := len(dst)
	for cut > 0 && (b[cut]&0xC0) == 0x80 {
		cut--
	}
	copy(dst, b[:cut])
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func getUint32(src []byte) uint32 {
	return uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
}

func putUint256(dst []byte, v *big.Int) {
	if v == nil {
		return
	}
	b := v.Bytes()
	if len(b) > len(dst) {
		b = b[len(b)-len(dst):]
	}
	copy(dst[len(dst)-len(b):], b)
}

// Encode serializes the order into its fixed ORDER_BYTES layout,
// big-endian for integers, left-aligned zero-padded for name/symbol.
func (o MintOrder) Encode() []byte {
	buf := make([]byte, ORDER_BYTES)
	off := 0

	putUint256(buf[off:off+widthAmount], o.Amount)
	off += widthAmount
	copy(buf[off:off+widthSenderID], o.SenderID[:])
	off += widthSenderID
	copy(buf[off:off+widthFromTokenID], o.FromTokenID[:])
	off += widthFromTokenID
	copy(buf[off:off+widthRecipient], o.Recipient[:])
	off += widthRecipient
	copy(buf[off:off+widthToERC20], o.ToERC20[:])
	off += widthToERC20
	putUint32(buf[off:off+widthNonce], o.Nonce)
	off += widthNonce
	putUint32(buf[off:off+widthSenderChainID], o.SenderChainID)
	off += widthSenderChainID
	putUint32(buf[off:off+widthRecipientChainID], o.RecipientChainID)
	off += widthRecipientChainID
	copy(buf[off:off+widthName], o.Name[:])
	off += widthName
	copy(buf[off:off+widthSymbol], o.Symbol[:])
	off += widthSymbol
	buf[off] = o.Decimals
	off += widthDecimals
	copy(buf[off:off+widthApproveSpender], o.ApproveSpender[:])
	off += widthApproveSpender
	putUint256(buf[off:off+widthApproveAmount], o.ApproveAmount)
	off += widthApproveAmount
	copy(buf[off:off+widthFeePayer], o.FeePayer[:])
	off += widthFeePayer

	return buf
}

// Decode parses one fixed-width order from exactly ORDER_BYTES bytes.
func Decode(buf []byte) (MintOrder, error) {
	if len(buf) != ORDER_BYTES {
		return MintOrder{}, chainerr.Deterministic(chainerr.CodeInvalidOrderLength, "order buffer has wrong length", nil)
	}
	var o MintOrder
	off := 0

	o.Amount = new(big.Int).SetBytes(buf[off : off+widthAmount])
	off += widthAmount
	copy(o.SenderID[:], buf[off:off+widthSenderID])
	off += widthSenderID
	copy(o.FromTokenID[:], buf[off:off+widthFromTokenID])
	off += widthFromTokenID
	copy(o.Recipient[:], buf[off:off+widthRecipient])
	off += widthRecipient
	copy(o.ToERC20[:], buf[off:off+widthToERC20])
	off += widthToERC20
	o.Nonce = getUint32(buf[off : off+widthNonce])
	off += widthNonce
	o.SenderChainID = getUint32(buf[off : off+widthSenderChainID])
	off += widthSenderChainID
	o.RecipientChainID = getUint32(buf[off : off+widthRecipientChainID])
	off += widthRecipientChainID
	copy(o.Name[:], buf[off:off+widthName])
	off += widthName
	copy(o.Symbol[:], buf[off:off+widthSymbol])
	off += widthSymbol
	o.Decimals = buf[off]
	off += widthDecimals
	copy(o.ApproveSpender[:], buf[off:off+widthApproveSpender])
	off += widthApproveSpender
	o.ApproveAmount = new(big.Int).SetBytes(buf[off : off+widthApproveAmount])
	off += widthApproveAmount
	copy(o.FeePayer[:], buf[off:off+widthFeePayer])
	off += widthFeePayer

	return o, nil
}

// Digest returns keccak256(order_bytes), the value a single order's
// signature covers.
func Digest(orderBytes []byte) [32]byte {
	return crypto.Keccak256Hash(orderBytes)
}

// EncodeBatch concatenates N orders' encodings in array order.
func EncodeBatch(orders []MintOrder) []byte {
	buf := make([]byte, 0, len(orders)*ORDER_BYTES)
	for _, o := range orders {
		buf = append(buf, o.Encode()...)
	}
	return buf
}

// BatchDigest returns keccak256 of the concatenated batch, the value
// the single batch signature covers.
func BatchDigest(batchBytes []byte) [32]byte {
	return crypto.Keccak256Hash(batchBytes)
}

// SplitBatch parses a concatenated batch back into N orders, requiring
// exact divisibility by ORDER_BYTES as the contract does.
func SplitBatch(data []byte) ([]MintOrder, error) {
	if len(data)%ORDER_BYTES != 0 {
		return nil, chainerr.Deterministic(chainerr.CodeInvalidOrderLength, "batch length not a multiple of ORDER_BYTES", nil)
	}
	n := len(data) / ORDER_BYTES
	orders := make([]MintOrder, 0, n)
	for i := 0; i < n; i++ {
		o, err := Decode(data[i*ORDER_BYTES : (i+1)*ORDER_BYTES])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// RecoverSigner recovers the 20-byte EVM address that produced sig over
// digest, mirroring the contract's batchMint signer-recovery step.
func RecoverSigner(digest [32]byte, sig [SignatureBytes]byte) ([20]byte, error) {
	var addr [20]byte
	recoverable := make([]byte, SignatureBytes)
	copy(recoverable, sig[:])
	if recoverable[64] >= 27 {
		recoverable[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], recoverable)
	if err != nil {
		return addr, chainerr.Deterministic(chainerr.CodeInvalidSignature, "failed to recover signer", err)
	}
	copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}
