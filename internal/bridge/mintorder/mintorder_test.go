package mintorder

import (
	"math/big"
	"testing"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() MintOrder {
	o := MintOrder{
		Amount:           big.NewInt(1_000_000),
		Nonce:            7,
		SenderChainID:    0,
		RecipientChainID: 8453,
		Name:             NewName("Wrapped Bitcoin"),
		Symbol:           NewSymbol("WBTC"),
		Decimals:         8,
		ApproveAmount:    big.NewInt(0),
	}
	copy(o.SenderID[:], []byte("sender-principal-bytes-padded..."))
	copy(o.Recipient[:], []byte("recipient-20-bytes!!"))
	copy(o.ToERC20[:], []byte("erc20-token-address!"))
	copy(o.FeePayer[:], []byte("fee-payer-address!!!"))
	return o
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	o := sampleOrder()
	encoded := o.Encode()
	require.Len(t, encoded, ORDER_BYTES)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, 0, o.Amount.Cmp(decoded.Amount))
	assert.Equal(t, o.SenderID, decoded.SenderID)
	assert.Equal(t, o.Recipient, decoded.Recipient)
	assert.Equal(t, o.ToERC20, decoded.ToERC20)
	assert.Equal(t, o.Nonce, decoded.Nonce)
	assert.Equal(t, o.SenderChainID, decoded.SenderChainID)
	assert.Equal(t, o.RecipientChainID, decoded.RecipientChainID)
	assert.Equal(t, o.Name, decoded.Name)
	assert.Equal(t, o.Symbol, decoded.Symbol)
	assert.Equal(t, o.Decimals, decoded.Decimals)
	assert.Equal(t, o.FeePayer, decoded.FeePayer)
}

func TestDecode_RejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, ORDER_BYTES-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_INVALID_ORDER_LENGTH")
}

func TestNewName_TruncatesOnCodePointBoundary(t *testing.T) {
	// each "文" is 3 bytes in UTF-8; 11 of them is 33 bytes, one over the
	// 32-byte field width, so the codec must cut before the 11th rune
	// rather than split its trailing bytes into the padding.
	long := ""
	for i := 0; i < 11; i++ {
		long += "文"
	}
	name := NewName(long)

	// the kept prefix is exactly the first ten runes (30 bytes), valid
	// UTF-8, followed by zero padding: the 11th rune is dropped whole.
	cut := 32
	for cut > 0 && name[cut-1] == 0 {
		cut--
	}
	assert.Equal(t, 30, cut)
	assert.True(t, utf8.Valid(name[:cut]))
}

func TestNewSymbol_ShortStringZeroPadded(t *testing.T) {
	sym := NewSymbol("WBTC")
	assert.Equal(t, byte('W'), sym[0])
	for i := 4; i < len(sym); i++ {
		assert.Equal(t, byte(0), sym[i])
	}
}

func TestEncodeBatch_SplitBatch_RoundTrip(t *testing.T) {
	orders := []MintOrder{sampleOrder(), sampleOrder()}
	orders[1].Nonce = 8

	batch := EncodeBatch(orders)
	require.Len(t, batch, 2*ORDER_BYTES)

	split, err := SplitBatch(batch)
	require.NoError(t, err)
	require.Len(t, split, 2)
	assert.Equal(t, uint32(7), split[0].Nonce)
	assert.Equal(t, uint32(8), split[1].Nonce)
}

func TestSplitBatch_RejectsNonMultipleLength(t *testing.T) {
	_, err := SplitBatch(make([]byte, ORDER_BYTES+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_INVALID_ORDER_LENGTH")
}

func TestRecoverSigner_MatchesSigningKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddr := crypto.PubkeyToAddress(key.PublicKey)

	o := sampleOrder()
	digest := Digest(o.Encode())

	sigBytes, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	var sig [SignatureBytes]byte
	copy(sig[:], sigBytes)
	// normalize to the contract's {27,28} convention before recovery,
	// mirroring what the signer package hands back.
	sig[64] += 27

	addr, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, wantAddr.Bytes(), addr[:])
}

func TestRecoverSigner_WrongDigestRecoversDifferentAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddr := crypto.PubkeyToAddress(key.PublicKey)

	o := sampleOrder()
	digest := Digest(o.Encode())
	sigBytes, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	var sig [SignatureBytes]byte
	copy(sig[:], sigBytes)
	sig[64] += 27

	tampered := sampleOrder()
	tampered.Nonce = 999
	otherDigest := Digest(tampered.Encode())

	addr, err := RecoverSigner(otherDigest, sig)
	require.NoError(t, err)
	assert.NotEqual(t, wantAddr.Bytes(), addr[:])
}

func TestBatchDigest_DiffersFromPerOrderDigest(t *testing.T) {
	orders := []MintOrder{sampleOrder(), sampleOrder()}
	orders[1].Nonce = 2

	batchDigest := BatchDigest(EncodeBatch(orders))
	orderDigest := Digest(orders[0].Encode())
	assert.NotEqual(t, batchDigest, orderDigest)
}
