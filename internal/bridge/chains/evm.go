package chains

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// EVMLogClient is the client surface this adapter needs from a
// secondary EVM chain; it reuses eventlog.EVMClient's shape rather than
// importing it, since a secondary chain's deposit events are plain
// ERC-20 Transfer logs into the bridge's custody address, not the
// destination bridge contract's own event set.
type EVMLogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EVMAdapter bridges a secondary EVM-compatible chain (a chain distinct
// from the wrapped destination chain, e.g. an L2 holding the original
// ERC-20). Deposits are Transfer(address,address,uint256) logs into the
// bridge's custody address.
type EVMAdapter struct {
	client      EVMLogClient
	chainID     uint32
	custody     common.Address
	minConfirms uint64
}

var sigTransfer = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func NewEVMAdapter(client EVMLogClient, chainID uint32, custody common.Address, minConfirms uint64) *EVMAdapter {
	return &EVMAdapter{client: client, chainID: chainID, custody: custody, minConfirms: minConfirms}
}

func (a *EVMAdapter) ChainKind() bridge.BaseChainKind { return bridge.ChainEVM }

func (a *EVMAdapter) ObserveDeposits(ctx context.Context, sink chan<- bridge.DepositCandidate) error {
	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to fetch head block", nil, err)
	}
	from := uint64(0)
	if head > 5000 {
		from = head - 5000
	}
	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Topics:    [][]common.Hash{{sigTransfer}, nil, {common.BytesToHash(a.custody.Bytes())}},
	})
	if err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "filter_logs failed", nil, err)
	}

	for _, log := range logs {
		if len(log.Topics) < 3 {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		amount := new(big.Int).SetBytes(log.Data)

		tokenID := bridge.NewEVMTokenID(a.chainID, [20]byte(log.Address))
		var senderID [32]byte
		copy(senderID[12:], from.Bytes())

		candidate := bridge.DepositCandidate{
			ChainKind:   bridge.ChainEVM,
			SourceTx:    log.TxHash.Hex(),
			SourceIndex: uint32(log.Index),
			SenderID:    senderID,
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

func (a *EVMAdapter) ConfirmDeposit(ctx context.Context, c bridge.DepositCandidate) (bridge.Confirmation, error) {
	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return bridge.Confirmation{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to fetch head block", nil, err)
	}
	return bridge.Confirmation{Depth: 0, Sufficient: head >= a.minConfirms, TaintOK: true}, nil
}

func (a *EVMAdapter) BuildTokenID(subject any) (bridge.TokenID, error) {
	addr, ok := subject.(common.Address)
	if !ok {
		return bridge.TokenID{}, chainerr.Fatal("ERR_UNSUPPORTED_TOKEN_SUBJECT", "evm adapter requires a common.Address subject", nil)
	}
	return bridge.NewEVMTokenID(a.chainID, [20]byte(addr)), nil
}

func (a *EVMAdapter) SettleWithdrawal(ctx context.Context, w bridge.WithdrawalInstruction) (bridge.SettlementReceipt, error) {
	return bridge.SettlementReceipt{}, chainerr.Fatal("ERR_NOT_IMPLEMENTED", "secondary EVM withdrawal settlement requires a signed transfer transaction supplied by the caller", nil)
}
