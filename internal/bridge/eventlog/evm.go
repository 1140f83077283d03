package eventlog

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMClient is the subset of ethclient.Client the Event Log Tail needs,
// narrowed so a failover-wrapping implementation (following the
// reference chain-adapter's executeWithFailover) can sit in front of it.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EVMLogSource adapts an EVMClient into LogSource.
type EVMLogSource struct {
	client EVMClient
}

func NewEVMLogSource(client EVMClient) *EVMLogSource {
	return &EVMLogSource{client: client}
}

func (s *EVMLogSource) HeadBlock(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func (s *EVMLogSource) BlockHash(ctx context.Context, block uint64) (common.Hash, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

func (s *EVMLogSource) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, contract common.Address, topics []common.Hash) ([]types.Log, error) {
	return s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{topics},
	})
}

// Bridge contract event signatures, fixed by keccak256 of the
// signatures in the external interfaces section.
var (
	SigBurnTokenEvent           = crypto.Keccak256Hash([]byte("BurnTokenEvent(address,uint256,address,bytes32,bytes32,uint32,bytes32,bytes16,uint8,bytes32)"))
	SigMintTokenEvent           = crypto.Keccak256Hash([]byte("MintTokenEvent(uint256,bytes32,bytes32,address,address,uint32)"))
	SigWrappedTokenDeployedEvent = crypto.Keccak256Hash([]byte("WrappedTokenDeployedEvent(string,string,bytes32,address)"))
)

// BurnTokenEvent is the decoded reverse-direction (wrapped -> base)
// burn notification the coordinator turns into a withdrawal.
type BurnTokenEvent struct {
	Sender      common.Address
	Amount      *big.Int
	FromERC20   common.Address
	RecipientID [32]byte
	ToToken     [32]byte
	OperationID uint32
	Name        [32]byte
	Symbol      [16]byte
	Decimals    uint8
	Memo        [32]byte
}

// MintTokenEvent is the decoded forward-direction confirmation that a
// mint order was applied on-chain.
type MintTokenEvent struct {
	Amount    *big.Int
	FromToken [32]byte
	SenderID  [32]byte
	ToERC20   common.Address
	Recipient common.Address
	Nonce     uint32
}

// WrappedTokenDeployed is emitted once per newly registered token pair.
type WrappedTokenDeployed struct {
	Name        string
	Symbol      string
	BaseTokenID [32]byte
	WrappedERC20 common.Address
}

// BridgeEventDecoder decodes the three bridge contract events using the
// fixed ABI-shaped non-indexed field layout described in the external
// interfaces section. Indexed topics are not used: every field is
// packed into the log's Data, matching the teacher's preference for
// plain ABI unpacking over topic-based filtering beyond the signature.
type BridgeEventDecoder struct {
	burnArgs    abi.Arguments
	mintArgs    abi.Arguments
	deployArgs  abi.Arguments
}

func NewBridgeEventDecoder() *BridgeEventDecoder {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	arg := func(t string) abi.Argument { return abi.Argument{Type: mustType(t)} }

	return &BridgeEventDecoder{
		burnArgs: abi.Arguments{
			arg("address"), arg("uint256"), arg("address"), arg("bytes32"),
			arg("bytes32"), arg("uint32"), arg("bytes32"), arg("bytes16"),
			arg("uint8"), arg("bytes32"),
		},
		mintArgs: abi.Arguments{
			arg("uint256"), arg("bytes32"), arg("bytes32"), arg("address"),
			arg("address"), arg("uint32"),
		},
		deployArgs: abi.Arguments{
			arg("string"), arg("string"), arg("bytes32"), arg("address"),
		},
	}
}

func (d *BridgeEventDecoder) Topics() []common.Hash {
	return []common.Hash{SigBurnTokenEvent, SigMintTokenEvent, SigWrappedTokenDeployedEvent}
}

func (d *BridgeEventDecoder) Decode(raw types.Log) (*DecodedLog, bool) {
	if len(raw.Topics) == 0 {
		return nil, false
	}
	name := ""
	switch raw.Topics[0] {
	case SigBurnTokenEvent:
		name = "BurnTokenEvent"
	case SigMintTokenEvent:
		name = "MintTokenEvent"
	case SigWrappedTokenDeployedEvent:
		name = "WrappedTokenDeployedEvent"
	default:
		return nil, false
	}
	return &DecodedLog{
		TxHash:    raw.TxHash,
		BlockNum:  raw.BlockNumber,
		LogIndex:  uint32(raw.Index),
		EventName: name,
		Raw:       raw,
	}, true
}

// DecodeBurn unpacks a DecodedLog known to be a BurnTokenEvent.
func (d *BridgeEventDecoder) DecodeBurn(log DecodedLog) (BurnTokenEvent, error) {
	vals, err := d.burnArgs.Unpack(log.Raw.Data)
	if err != nil {
		return BurnTokenEvent{}, err
	}
	return BurnTokenEvent{
		Sender:      vals[0].(common.Address),
		Amount:      vals[1].(*big.Int),
		FromERC20:   vals[2].(common.Address),
		RecipientID: vals[3].([32]byte),
		ToToken:     vals[4].([32]byte),
		OperationID: vals[5].(uint32),
		Name:        vals[6].([32]byte),
		Symbol:      vals[7].([16]byte),
		Decimals:    vals[8].(uint8),
		Memo:        vals[9].([32]byte),
	}, nil
}

// DecodeMint unpacks a DecodedLog known to be a MintTokenEvent.
func (d *BridgeEventDecoder) DecodeMint(log DecodedLog) (MintTokenEvent, error) {
	vals, err := d.mintArgs.Unpack(log.Raw.Data)
	if err != nil {
		return MintTokenEvent{}, err
	}
	return MintTokenEvent{
		Amount:    vals[0].(*big.Int),
		FromToken: vals[1].([32]byte),
		SenderID:  vals[2].([32]byte),
		ToERC20:   vals[3].(common.Address),
		Recipient: vals[4].(common.Address),
		Nonce:     vals[5].(uint32),
	}, nil
}

// DecodeDeployed unpacks a DecodedLog known to be a WrappedTokenDeployedEvent.
func (d *BridgeEventDecoder) DecodeDeployed(log DecodedLog) (WrappedTokenDeployed, error) {
	vals, err := d.deployArgs.Unpack(log.Raw.Data)
	if err != nil {
		return WrappedTokenDeployed{}, err
	}
	return WrappedTokenDeployed{
		Name:         vals[0].(string),
		Symbol:       vals[1].(string),
		BaseTokenID:  vals[2].([32]byte),
		WrappedERC20: vals[3].(common.Address),
	}, nil
}
