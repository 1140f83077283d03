package chains

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/mr-tron/base58"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
	"github.com/btfbridge/coordinator/src/chainadapter/rpc"
)

// ICRC2Adapter observes icrc2_transfer_from deposits into the
// coordinator's subaccount on an ICP ledger canister and settles
// base-bound withdrawals via icrc1_transfer. Canister principals are
// base58-decoded (plain base58, no checksum) the way the teacher's address layer decodes
// non-EVM chain addresses, reused here for the principal encoding ICRC
// ledgers expose over their candid interface.
type ICRC2Adapter struct {
	client       rpc.RPCClient
	ledgerCanister string
	subaccount   [32]byte
	minConfirms  uint32
}

func NewICRC2Adapter(client rpc.RPCClient, ledgerCanister string, subaccount [32]byte, minConfirms uint32) *ICRC2Adapter {
	return &ICRC2Adapter{client: client, ledgerCanister: ledgerCanister, subaccount: subaccount, minConfirms: minConfirms}
}

func (a *ICRC2Adapter) ChainKind() bridge.BaseChainKind { return bridge.ChainICRC2 }

type icrcTransfer struct {
	BlockIndex uint64 `json:"block_index"`
	From       string `json:"from_principal"`
	Amount     string `json:"amount"`
}

// ObserveDeposits calls the ledger's icrc2_list_deposits method for
// transfers into the coordinator's subaccount. ICP ledgers finalize in
// a single round, so confirmation depth is a formality rather than a
// reorg defense, unlike the UTXO and EVM adapters.
func (a *ICRC2Adapter) ObserveDeposits(ctx context.Context, sink chan<- bridge.DepositCandidate) error {
	raw, err := a.client.Call(ctx, "icrc2_list_deposits", []interface{}{a.ledgerCanister, a.subaccount})
	if err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "icrc2_list_deposits failed", nil, err)
	}
	var transfers []icrcTransfer
	if err := json.Unmarshal(raw, &transfers); err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode deposit list", nil, err)
	}

	tokenID, err := a.BuildTokenID(a.ledgerCanister)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		amount, ok := new(big.Int).SetString(t.Amount, 10)
		if !ok {
			continue
		}
		sender, err := principalToSenderID(t.From)
		if err != nil {
			continue
		}
		candidate := bridge.DepositCandidate{
			ChainKind:   bridge.ChainICRC2,
			SourceTx:    itoa(t.BlockIndex),
			SourceIndex: 0,
			SenderID:    sender,
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

func (a *ICRC2Adapter) ConfirmDeposit(ctx context.Context, c bridge.DepositCandidate) (bridge.Confirmation, error) {
	raw, err := a.client.Call(ctx, "icrc2_block_status", []interface{}{a.ledgerCanister, c.SourceTx})
	if err != nil {
		return bridge.Confirmation{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "icrc2_block_status failed", nil, err)
	}
	var status struct {
		Certified bool `json:"certified"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return bridge.Confirmation{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode block status", nil, err)
	}
	return bridge.Confirmation{Depth: 1, Sufficient: status.Certified, TaintOK: true}, nil
}

// BuildTokenID encodes the ledger canister principal as a tag-0x00
// TokenID payload.
func (a *ICRC2Adapter) BuildTokenID(subject any) (bridge.TokenID, error) {
	principal, ok := subject.(string)
	if !ok {
		return bridge.TokenID{}, chainerr.Fatal("ERR_UNSUPPORTED_TOKEN_SUBJECT", "icrc2 adapter requires a canister principal string", nil)
	}
	return bridge.NewPrincipalTokenID([]byte(principal))
}

func (a *ICRC2Adapter) SettleWithdrawal(ctx context.Context, w bridge.WithdrawalInstruction) (bridge.SettlementReceipt, error) {
	raw, err := a.client.Call(ctx, "icrc1_transfer", []interface{}{a.ledgerCanister, string(w.Recipient), w.Amount.String()})
	if err != nil {
		return bridge.SettlementReceipt{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "icrc1_transfer failed", nil, err)
	}
	var blockIndex uint64
	if err := json.Unmarshal(raw, &blockIndex); err != nil {
		return bridge.SettlementReceipt{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to decode icrc1_transfer response", nil, err)
	}
	return bridge.SettlementReceipt{TxHash: itoa(blockIndex), SubmittedAt: time.Now()}, nil
}

func principalToSenderID(principal string) ([32]byte, error) {
	var out [32]byte
	decoded, err := base58.Decode(principal)
	if err != nil {
		return out, err
	}
	n := len(decoded)
	if n > 32 {
		n = 32
	}
	copy(out[:n], decoded[:n])
	return out, nil
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
