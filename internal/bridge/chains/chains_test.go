package chains

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/src/chainadapter/rpc"
)

func drain(ctx context.Context, t *testing.T, adapter bridge.BaseChainAdapter) []bridge.DepositCandidate {
	t.Helper()
	sink := make(chan bridge.DepositCandidate, 16)
	done := make(chan error, 1)
	go func() { done <- adapter.ObserveDeposits(ctx, sink) }()
	require.NoError(t, <-done)
	close(sink)
	var out []bridge.DepositCandidate
	for c := range sink {
		out = append(out, c)
	}
	return out
}

func TestBitcoinAdapter_ObserveDeposits_ResolvesEachUnspentEntry(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("listunspent", []map[string]interface{}{
		{"txid": "deadbeef", "vout": 0, "address": "bc1qwatch", "amount": 0.5, "confirmations": 1},
		{"txid": "cafebabe", "vout": 1, "address": "bc1qwatch", "amount": 1.25, "confirmations": 3},
	})

	a := NewBitcoinAdapter(client, "bc1qwatch", 2, nil, bridge.ChainBitcoin)
	candidates := drain(context.Background(), t, a)

	require.Len(t, candidates, 2)
	assert.Equal(t, "deadbeef", candidates[0].SourceTx)
	assert.Equal(t, uint32(0), candidates[0].SourceIndex)
	assert.Equal(t, big.NewInt(50000000), candidates[0].Amount)
	assert.Equal(t, bridge.ChainBitcoin, candidates[0].ChainKind)
}

func TestBitcoinAdapter_ObserveDeposits_PropagatesRPCFailureAsTransient(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetError("listunspent", assert.AnError)

	a := NewBitcoinAdapter(client, "bc1qwatch", 2, nil, bridge.ChainBitcoin)
	err := a.ObserveDeposits(context.Background(), make(chan bridge.DepositCandidate, 1))
	require.Error(t, err)
}

func TestBitcoinAdapter_ConfirmDeposit_SufficientWhenDepthMeetsThreshold(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("gettransaction", map[string]interface{}{"confirmations": 6})

	a := NewBitcoinAdapter(client, "bc1qwatch", 6, nil, bridge.ChainBitcoin)
	conf, err := a.ConfirmDeposit(context.Background(), bridge.DepositCandidate{SourceTx: "deadbeef"})
	require.NoError(t, err)
	assert.True(t, conf.Sufficient)
	assert.Equal(t, uint32(6), conf.Depth)
	assert.True(t, conf.TaintOK)
}

func TestBitcoinAdapter_ConfirmDeposit_InsufficientBelowThreshold(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("gettransaction", map[string]interface{}{"confirmations": 1})

	a := NewBitcoinAdapter(client, "bc1qwatch", 6, nil, bridge.ChainBitcoin)
	conf, err := a.ConfirmDeposit(context.Background(), bridge.DepositCandidate{SourceTx: "deadbeef"})
	require.NoError(t, err)
	assert.False(t, conf.Sufficient)
}

func TestBitcoinAdapter_BuildTokenID_AcceptsStringAndBytes(t *testing.T) {
	a := NewBitcoinAdapter(rpc.NewMockRPCClient(), "bc1qwatch", 1, nil, bridge.ChainBitcoin)

	id, err := a.BuildTokenID("ORDI")
	require.NoError(t, err)
	assert.Equal(t, []byte("ORDI"), id.Principal())

	id2, err := a.BuildTokenID([]byte("RUNE"))
	require.NoError(t, err)
	assert.Equal(t, []byte("RUNE"), id2.Principal())
}

func TestBitcoinAdapter_BuildTokenID_RejectsUnsupportedSubject(t *testing.T) {
	a := NewBitcoinAdapter(rpc.NewMockRPCClient(), "bc1qwatch", 1, nil, bridge.ChainBitcoin)
	_, err := a.BuildTokenID(42)
	assert.Error(t, err)
}

func TestBitcoinAdapter_SettleWithdrawal_ConvertsSatoshisToBTC(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("sendtoaddress", "txhash123")

	a := NewBitcoinAdapter(client, "bc1qwatch", 1, nil, bridge.ChainBitcoin)
	receipt, err := a.SettleWithdrawal(context.Background(), bridge.WithdrawalInstruction{
		Recipient: []byte("bc1qrecipient"),
		Amount:    big.NewInt(150000000),
	})
	require.NoError(t, err)
	assert.Equal(t, "txhash123", receipt.TxHash)
}

func TestBitcoinAdapter_ChainKind_ReturnsConfiguredKind(t *testing.T) {
	a := NewBitcoinAdapter(rpc.NewMockRPCClient(), "addr", 1, nil, bridge.ChainBRC20)
	assert.Equal(t, bridge.ChainBRC20, a.ChainKind())
}

func TestNativeBTCResolver_AlwaysReportsNativeBTC(t *testing.T) {
	id, err := NativeBTCResolver{}.ResolveTokenID(context.Background(), "deadbeef", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("BTC"), id.Principal())
}

func TestICRC2Adapter_ObserveDeposits_DecodesTransfersIntoSubaccount(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("icrc2_list_deposits", []map[string]interface{}{
		{"block_index": 7, "from_principal": "3VYm", "amount": "1000000"},
	})

	a := NewICRC2Adapter(client, "ryjl3-tyaaa-aaaaa-aaaba-cai", [32]byte{1}, 1)
	candidates := drain(context.Background(), t, a)

	require.Len(t, candidates, 1)
	assert.Equal(t, bridge.ChainICRC2, candidates[0].ChainKind)
	assert.Equal(t, big.NewInt(1000000), candidates[0].Amount)
}

func TestICRC2Adapter_ObserveDeposits_SkipsUnparsableAmounts(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("icrc2_list_deposits", []map[string]interface{}{
		{"block_index": 1, "from_principal": "3VYm", "amount": "not-a-number"},
	})

	a := NewICRC2Adapter(client, "ledger", [32]byte{}, 1)
	candidates := drain(context.Background(), t, a)
	assert.Empty(t, candidates)
}

func TestICRC2Adapter_ConfirmDeposit_SufficientWhenCertified(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("icrc2_block_status", map[string]interface{}{"certified": true})

	a := NewICRC2Adapter(client, "ledger", [32]byte{}, 1)
	conf, err := a.ConfirmDeposit(context.Background(), bridge.DepositCandidate{SourceTx: "7"})
	require.NoError(t, err)
	assert.True(t, conf.Sufficient)
	assert.Equal(t, uint32(1), conf.Depth)
}

func TestICRC2Adapter_BuildTokenID_RequiresPrincipalString(t *testing.T) {
	a := NewICRC2Adapter(rpc.NewMockRPCClient(), "ledger", [32]byte{}, 1)
	_, err := a.BuildTokenID(123)
	assert.Error(t, err)

	id, err := a.BuildTokenID("ledger")
	require.NoError(t, err)
	assert.Equal(t, []byte("ledger"), id.Principal())
}

func TestICRC2Adapter_SettleWithdrawal_ReturnsBlockIndexAsTxHash(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetResponse("icrc1_transfer", 42)

	a := NewICRC2Adapter(client, "ledger", [32]byte{}, 1)
	receipt, err := a.SettleWithdrawal(context.Background(), bridge.WithdrawalInstruction{
		Recipient: []byte("aaaaa-aa"),
		Amount:    big.NewInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "42", receipt.TxHash)
}

func TestEVMAdapter_ChainKind_IsEVM(t *testing.T) {
	a := NewEVMAdapter(nil, 8453, common.Address{}, 1)
	assert.Equal(t, bridge.ChainEVM, a.ChainKind())
}

func TestEVMAdapter_BuildTokenID_RequiresCommonAddress(t *testing.T) {
	a := NewEVMAdapter(nil, 1, common.Address{}, 1)
	_, err := a.BuildTokenID("not-an-address")
	assert.Error(t, err)
}

func TestEVMAdapter_SettleWithdrawal_NotImplementedForSecondaryChain(t *testing.T) {
	a := NewEVMAdapter(nil, 1, common.Address{}, 1)
	_, err := a.SettleWithdrawal(context.Background(), bridge.WithdrawalInstruction{})
	assert.Error(t, err, "secondary EVM withdrawal settlement has no signer wired and must fail closed")
}
