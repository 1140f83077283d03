package contract

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/mintorder"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func sender(b byte) [32]byte {
	var s [32]byte
	s[31] = b
	return s
}

func setupState(t *testing.T) (*State, [20]byte, bridge.TokenID) {
	t.Helper()
	minterKey := addr(0xAA)
	wrapped := addr(0x01)
	base, err := bridge.NewPrincipalTokenID([]byte("BTC"))
	require.NoError(t, err)

	s := NewState(minterKey, 8453, true)
	require.True(t, s.Registry.Register(TokenPair{Wrapped: wrapped, BaseTokenID: base}))
	return s, wrapped, base
}

// signBatch signs orders with key and returns the encoded batch plus a
// {27,28}-normalized r||s||v signature, the shape BatchMint expects.
func signBatch(t *testing.T, orders []mintorder.MintOrder, key *ecdsa.PrivateKey) ([]byte, [mintorder.SignatureBytes]byte) {
	t.Helper()
	encoded := mintorder.EncodeBatch(orders)
	digest := mintorder.BatchDigest(encoded)
	sigBytes, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	var sig [mintorder.SignatureBytes]byte
	copy(sig[:], sigBytes)
	sig[64] += 27
	return encoded, sig
}

func TestRegistry_BijectiveRegistration(t *testing.T) {
	r := NewRegistry()
	wrapped := addr(1)
	base, err := bridge.NewPrincipalTokenID([]byte("RUNE"))
	require.NoError(t, err)

	assert.True(t, r.Register(TokenPair{Wrapped: wrapped, BaseTokenID: base}))
	assert.False(t, r.Register(TokenPair{Wrapped: wrapped, BaseTokenID: base}), "re-registering the same wrapped address must fail")

	other := addr(2)
	assert.False(t, r.Register(TokenPair{Wrapped: other, BaseTokenID: base}), "re-registering the same base token id under a new wrapped address must fail")

	got, ok := r.GetWrappedToken(base)
	require.True(t, ok)
	assert.Equal(t, wrapped, got)

	gotBase, ok := r.GetBaseToken(wrapped)
	require.True(t, ok)
	assert.Equal(t, base, gotBase)

	assert.True(t, r.IsRegisteredPair(wrapped, base))
	assert.False(t, r.IsRegisteredPair(other, base))
}

func TestNonceRing_RotatesOldestAfter256(t *testing.T) {
	r := NewNonceRing()
	for i := uint32(0); i < 256; i++ {
		r.Push(i)
	}
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(255))

	r.Push(256)
	assert.False(t, r.Contains(0), "pushing past capacity must evict the oldest entry")
	assert.True(t, r.Contains(256))
}

func TestNonceRegistry_NextFreeIncrementsAndReconciles(t *testing.T) {
	n := NewNonceRegistry()
	s := sender(1)

	assert.Equal(t, uint32(0), n.NextFree(s))
	assert.Equal(t, uint32(1), n.NextFree(s))
	assert.Equal(t, uint32(2), n.NextFree(s))

	n.ReconcileNonce(s, 10)
	assert.Equal(t, uint32(10), n.NextFree(s))
}

func TestNonceRegistry_UsedNonceIndependentPerSender(t *testing.T) {
	n := NewNonceRegistry()
	a, b := sender(1), sender(2)
	n.RecordNonce(a, 5)
	assert.True(t, n.UsedNonce(a, 5))
	assert.False(t, n.UsedNonce(b, 5))
}

func TestApplyOrder_RejectsWrongChainID(t *testing.T) {
	s, wrapped, base := setupState(t)
	order := mintorder.MintOrder{
		Amount:           big.NewInt(1),
		RecipientChainID: s.ChainID + 1,
		Recipient:        addr(5),
		ToERC20:          wrapped,
		FromTokenID:      base,
		ApproveAmount:    big.NewInt(0),
	}
	assert.Equal(t, StatusUnexpectedRecipientChainID, s.applyOrder(order))
}

func TestApplyOrder_RejectsZeroRecipientThenZeroAmount(t *testing.T) {
	s, wrapped, base := setupState(t)
	order := mintorder.MintOrder{
		Amount:           big.NewInt(1),
		RecipientChainID: s.ChainID,
		ToERC20:          wrapped,
		FromTokenID:      base,
		ApproveAmount:    big.NewInt(0),
	}
	assert.Equal(t, StatusZeroRecipient, s.applyOrder(order))

	order.Recipient = addr(9)
	order.Amount = big.NewInt(0)
	assert.Equal(t, StatusZeroAmount, s.applyOrder(order))
}

func TestApplyOrder_RejectsUnregisteredPair(t *testing.T) {
	s, _, _ := setupState(t)
	order := mintorder.MintOrder{
		Amount:           big.NewInt(1),
		RecipientChainID: s.ChainID,
		Recipient:        addr(9),
		ToERC20:          addr(0xEE),
		ApproveAmount:    big.NewInt(0),
	}
	assert.Equal(t, StatusTokensNotBridged, s.applyOrder(order))
}

func TestApplyOrder_MintsAndRejectsReplayedNonce(t *testing.T) {
	s, wrapped, base := setupState(t)
	order := mintorder.MintOrder{
		Amount:           big.NewInt(1000),
		SenderID:         sender(3),
		RecipientChainID: s.ChainID,
		Recipient:        addr(9),
		ToERC20:          wrapped,
		FromTokenID:      base,
		Nonce:            42,
		ApproveAmount:    big.NewInt(0),
	}
	assert.Equal(t, StatusOK, s.applyOrder(order))
	assert.Equal(t, 0, s.Balances.BalanceOf(wrapped, addr(9)).Cmp(big.NewInt(1000)))

	assert.Equal(t, StatusUsedNonce, s.applyOrder(order), "replaying the same (sender, nonce) must be rejected")
}

func TestApplyOrder_RecordsApproveSpenderAllowance(t *testing.T) {
	s, wrapped, base := setupState(t)
	spender := addr(0x77)
	order := mintorder.MintOrder{
		Amount:           big.NewInt(500),
		SenderID:         sender(4),
		RecipientChainID: s.ChainID,
		Recipient:        addr(9),
		ToERC20:          wrapped,
		FromTokenID:      base,
		Nonce:            1,
		ApproveSpender:   spender,
		ApproveAmount:    big.NewInt(250),
	}
	require.Equal(t, StatusOK, s.applyOrder(order))
	assert.Equal(t, 0, s.Balances.Allowance(wrapped, addr(9), spender).Cmp(big.NewInt(250)))
}

func TestBatchMint_RejectsWhenPaused(t *testing.T) {
	controller := addr(0x10)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	minter := crypto.PubkeyToAddress(key.PublicKey)

	var minterAddr [20]byte
	copy(minterAddr[:], minter.Bytes())
	s := NewState(minterAddr, 8453, true, controller)
	require.NoError(t, s.PauseBridge(controller))

	encoded, sig := signBatch(t, []mintorder.MintOrder{{ApproveAmount: big.NewInt(0), Amount: big.NewInt(0)}}, key)
	_, err = s.BatchMint(encoded, sig, nil)
	assert.ErrorIs(t, err, errPaused)
}

func TestBatchMint_RejectsWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor, err := crypto.GenerateKey()
	require.NoError(t, err)

	var minterAddr [20]byte
	copy(minterAddr[:], crypto.PubkeyToAddress(key.PublicKey).Bytes())
	s := NewState(minterAddr, 8453, true)

	encoded, sig := signBatch(t, []mintorder.MintOrder{{ApproveAmount: big.NewInt(0), Amount: big.NewInt(0)}}, impostor)
	_, err = s.BatchMint(encoded, sig, nil)
	assert.ErrorIs(t, err, errMinterMismatch)
}

func TestBatchMint_EndToEndAppliesEveryOrderWhenToProcessEmpty(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	var minterAddr [20]byte
	copy(minterAddr[:], crypto.PubkeyToAddress(key.PublicKey).Bytes())

	wrapped := addr(0x01)
	base, err := bridge.NewPrincipalTokenID([]byte("BTC"))
	require.NoError(t, err)
	s := NewState(minterAddr, 8453, true)
	require.True(t, s.Registry.Register(TokenPair{Wrapped: wrapped, BaseTokenID: base}))

	good := mintorder.MintOrder{
		Amount: big.NewInt(10), SenderID: sender(1), RecipientChainID: 8453,
		Recipient: addr(9), ToERC20: wrapped, FromTokenID: base, Nonce: 1,
		ApproveAmount: big.NewInt(0),
	}
	bad := mintorder.MintOrder{
		Amount: big.NewInt(10), RecipientChainID: 1, // wrong chain id
		ApproveAmount: big.NewInt(0),
	}

	encoded, sig := signBatch(t, []mintorder.MintOrder{good, bad}, key)
	statuses, err := s.BatchMint(encoded, sig, nil)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusOK, statuses[0])
	assert.Equal(t, StatusUnexpectedRecipientChainID, statuses[1])
}

func TestBatchMint_ToProcessSkipsUnlistedIndices(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	var minterAddr [20]byte
	copy(minterAddr[:], crypto.PubkeyToAddress(key.PublicKey).Bytes())
	s := NewState(minterAddr, 8453, true)

	orders := []mintorder.MintOrder{
		{ApproveAmount: big.NewInt(0), Amount: big.NewInt(0)},
		{ApproveAmount: big.NewInt(0), Amount: big.NewInt(0)},
	}
	encoded, sig := signBatch(t, orders, key)
	statuses, err := s.BatchMint(encoded, sig, []uint32{1})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessingNotRequested, statuses[0])
	assert.NotEqual(t, StatusProcessingNotRequested, statuses[1])
}

func TestBurn_WrappedSideDebitsBalance(t *testing.T) {
	s, wrapped, base := setupState(t)
	holder := addr(0x55)
	s.Balances.Mint(wrapped, holder, big.NewInt(100))

	opID, err := s.Burn(holder, big.NewInt(40), wrapped, base, []byte("bc1qxxxx"), [32]byte{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), opID)
	assert.Equal(t, 0, s.Balances.BalanceOf(wrapped, holder).Cmp(big.NewInt(60)))

	_, err = s.Burn(holder, big.NewInt(1000), wrapped, base, []byte("bc1qxxxx"), [32]byte{})
	assert.Error(t, err)
}

func TestDeployERC20_RequiresControllerOnWrappedSide(t *testing.T) {
	minter := addr(0xAA)
	s := NewState(minter, 1, true)
	base, _ := bridge.NewPrincipalTokenID([]byte("ORDI"))

	err := s.DeployERC20(addr(0x99), addr(0x02), base)
	assert.Error(t, err, "a non-controller must not be able to register a pair on the wrapped side")

	s.Controllers.Add(addr(0x99))
	require.NoError(t, s.DeployERC20(addr(0x99), addr(0x02), base))
}

func TestUpgradeToAndCall_RequiresAllowListedCodehash(t *testing.T) {
	controller := addr(0x10)
	s := NewState(addr(0xAA), 1, true, controller)

	var codehash [32]byte
	codehash[0] = 0x42

	err := s.UpgradeToAndCall(controller, codehash)
	assert.Error(t, err)

	s.Allowed.Add(codehash)
	assert.NoError(t, s.UpgradeToAndCall(controller, codehash))
}
