// Package chains provides concrete bridge.BaseChainAdapter
// implementations for each base-chain family, grounded on the
// reference chain-adapter's per-chain adapters
// (src/chainadapter/bitcoin/adapter.go,
// src/chainadapter/ethereum/adapter.go) and its generic JSON-RPC
// abstraction (src/chainadapter/rpc.RPCClient), reused here verbatim as
// the node-call surface every adapter is built on.
package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
	"github.com/btfbridge/coordinator/src/chainadapter/rpc"
)

// BitcoinAdapter observes and confirms raw UTXO deposits to a
// coordinator-controlled watch address, and settles base-bound
// withdrawals by broadcasting a transfer transaction. BRC-20 and Runes
// reuse the same UTXO indexing RPC surface, differing only in
// BuildTokenID and how a deposit's token identity is inferred
// (delegated to a MetaResolver).
type BitcoinAdapter struct {
	client        rpc.RPCClient
	watchAddress  string
	minConfirms   uint32
	resolver      MetaResolver
	kind          bridge.BaseChainKind
}

// MetaResolver inspects a UTXO-chain deposit transaction for
// BRC-20/Rune metadata; the plain BitcoinAdapter uses a resolver that
// always reports "native BTC" (no overlay metadata).
type MetaResolver interface {
	ResolveTokenID(ctx context.Context, txHash string, vout uint32) (bridge.TokenID, error)
}

// NativeBTCResolver treats every UTXO as native BTC.
type NativeBTCResolver struct{}

func (NativeBTCResolver) ResolveTokenID(ctx context.Context, txHash string, vout uint32) (bridge.TokenID, error) {
	return bridge.NewPrincipalTokenID([]byte("BTC"))
}

func NewBitcoinAdapter(client rpc.RPCClient, watchAddress string, minConfirms uint32, resolver MetaResolver, kind bridge.BaseChainKind) *BitcoinAdapter {
	if resolver == nil {
		resolver = NativeBTCResolver{}
	}
	return &BitcoinAdapter{client: client, watchAddress: watchAddress, minConfirms: minConfirms, resolver: resolver, kind: kind}
}

func (a *BitcoinAdapter) ChainKind() bridge.BaseChainKind { return a.kind }

type listUnspentEntry struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations uint32  `json:"confirmations"`
}

// ObserveDeposits polls listunspent against the watch address, the
// UTXO-chain analogue of the EVM event tail's FilterLogs polling.
func (a *BitcoinAdapter) ObserveDeposits(ctx context.Context, sink chan<- bridge.DepositCandidate) error {
	raw, err := a.client.Call(ctx, "listunspent", []interface{}{0, 9999999, []string{a.watchAddress}})
	if err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "listunspent failed", nil, err)
	}
	var entries []listUnspentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode listunspent response", nil, err)
	}

	for _, e := range entries {
		tokenID, err := a.resolver.ResolveTokenID(ctx, e.TxID, e.Vout)
		if err != nil {
			continue
		}
		amount := new(big.Int).SetInt64(int64(e.Amount * 1e8))
		candidate := bridge.DepositCandidate{
			ChainKind:   a.kind,
			SourceTx:    e.TxID,
			SourceIndex: e.Vout,
			FromToken:   tokenID,
			Amount:      amount,
			ObservedAt:  time.Now(),
		}
		select {
		case sink <- candidate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *BitcoinAdapter) ConfirmDeposit(ctx context.Context, c bridge.DepositCandidate) (bridge.Confirmation, error) {
	raw, err := a.client.Call(ctx, "gettransaction", []interface{}{c.SourceTx})
	if err != nil {
		return bridge.Confirmation{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "gettransaction failed", nil, err)
	}
	var result struct {
		Confirmations uint32 `json:"confirmations"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return bridge.Confirmation{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode gettransaction response", nil, err)
	}
	return bridge.Confirmation{
		Depth:      result.Confirmations,
		Sufficient: result.Confirmations >= a.minConfirms,
		// Taint screening is delegated to an external compliance
		// service in production deployments; absent one, UTXOs are
		// treated as clean.
		TaintOK: true,
	}, nil
}

func (a *BitcoinAdapter) BuildTokenID(subject any) (bridge.TokenID, error) {
	switch v := subject.(type) {
	case string:
		return bridge.NewPrincipalTokenID([]byte(v))
	case []byte:
		return bridge.NewPrincipalTokenID(v)
	default:
		return bridge.TokenID{}, chainerr.Fatal("ERR_UNSUPPORTED_TOKEN_SUBJECT", fmt.Sprintf("bitcoin adapter cannot build a token id from %T", subject), nil)
	}
}

func (a *BitcoinAdapter) SettleWithdrawal(ctx context.Context, w bridge.WithdrawalInstruction) (bridge.SettlementReceipt, error) {
	btcAmount := new(big.Float).Quo(new(big.Float).SetInt(w.Amount), big.NewFloat(1e8))
	raw, err := a.client.Call(ctx, "sendtoaddress", []interface{}{string(w.Recipient), btcAmount})
	if err != nil {
		return bridge.SettlementReceipt{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "sendtoaddress failed", nil, err)
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return bridge.SettlementReceipt{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode sendtoaddress response", nil, err)
	}
	return bridge.SettlementReceipt{TxHash: txHash, SubmittedAt: time.Now()}, nil
}
