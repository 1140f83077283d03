package eventlog

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_LessOrdersByBlockThenLogIndex(t *testing.T) {
	a := Checkpoint{Block: 10, LogIndex: 5}
	b := Checkpoint{Block: 10, LogIndex: 6}
	c := Checkpoint{Block: 11, LogIndex: 0}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, b.Less(a))
}

func TestDecodedLog_KeyCombinesTxHashAndLogIndex(t *testing.T) {
	d := DecodedLog{TxHash: common.HexToHash("0xabc"), LogIndex: 3}
	assert.Equal(t, common.HexToHash("0xabc").Hex()+"#3", d.Key())
}

type stubLogSource struct {
	head   uint64
	logs   []types.Log
	hashes map[uint64]common.Hash
}

func (s *stubLogSource) HeadBlock(ctx context.Context) (uint64, error) { return s.head, nil }

func (s *stubLogSource) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, contract common.Address, topics []common.Hash) ([]types.Log, error) {
	var out []types.Log
	for _, l := range s.logs {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubLogSource) BlockHash(ctx context.Context, block uint64) (common.Hash, error) {
	if h, ok := s.hashes[block]; ok {
		return h, nil
	}
	return common.BigToHash(new(big.Int).SetUint64(block)), nil
}

type passthroughDecoder struct{}

func (passthroughDecoder) Topics() []common.Hash { return nil }

func (passthroughDecoder) Decode(raw types.Log) (*DecodedLog, bool) {
	return &DecodedLog{
		TxHash:    raw.TxHash,
		BlockNum:  raw.BlockNumber,
		LogIndex:  uint32(raw.Index),
		EventName: "Stub",
		Raw:       raw,
	}, true
}

func newTailForScan(src LogSource, cfg Config) *Tail {
	return &Tail{src: src, dec: passthroughDecoder{}, cfg: cfg, logger: zerolog.Nop()}
}

func TestTail_ScanRangeDeliversLogsInOrderAndAdvancesCheckpoint(t *testing.T) {
	src := &stubLogSource{
		logs: []types.Log{
			{BlockNumber: 5, Index: 0, TxHash: common.HexToHash("0x1")},
			{BlockNumber: 5, Index: 1, TxHash: common.HexToHash("0x2")},
			{BlockNumber: 6, Index: 0, TxHash: common.HexToHash("0x3")},
		},
		hashes: map[uint64]common.Hash{},
	}
	tail := newTailForScan(src, Config{MaxBlocksPerScan: 100})

	var delivered []DecodedLog
	sub := func(ctx context.Context, log DecodedLog) error {
		delivered = append(delivered, log)
		return nil
	}

	cp, _, err := tail.scanRange(context.Background(), Checkpoint{}, 6, []Subscriber{sub})
	require.NoError(t, err)
	require.Len(t, delivered, 3)
	assert.Equal(t, common.HexToHash("0x1"), delivered[0].TxHash)
	assert.Equal(t, common.HexToHash("0x3"), delivered[2].TxHash)
	assert.Equal(t, Checkpoint{Block: 6, LogIndex: 0}, cp)
}

func TestTail_ScanRangeChunksAcrossMaxBlocksPerScan(t *testing.T) {
	src := &stubLogSource{
		logs: []types.Log{
			{BlockNumber: 1, Index: 0, TxHash: common.HexToHash("0x1")},
			{BlockNumber: 4, Index: 0, TxHash: common.HexToHash("0x2")},
		},
		hashes: map[uint64]common.Hash{},
	}
	tail := newTailForScan(src, Config{MaxBlocksPerScan: 2})

	var delivered []DecodedLog
	sub := func(ctx context.Context, log DecodedLog) error {
		delivered = append(delivered, log)
		return nil
	}

	cp, _, err := tail.scanRange(context.Background(), Checkpoint{}, 4, []Subscriber{sub})
	require.NoError(t, err)
	require.Len(t, delivered, 2, "chunking must not drop or duplicate logs across the boundary")
	assert.Equal(t, Checkpoint{Block: 4, LogIndex: 0}, cp)
}

func TestTail_ScanRangeStopsAtFirstSubscriberErrorWithoutAdvancingPastIt(t *testing.T) {
	src := &stubLogSource{
		logs: []types.Log{
			{BlockNumber: 5, Index: 0, TxHash: common.HexToHash("0x1")},
			{BlockNumber: 5, Index: 1, TxHash: common.HexToHash("0x2")},
		},
		hashes: map[uint64]common.Hash{},
	}
	tail := newTailForScan(src, Config{MaxBlocksPerScan: 100})

	boom := assert.AnError
	sub := func(ctx context.Context, log DecodedLog) error {
		if log.LogIndex == 1 {
			return boom
		}
		return nil
	}

	cp, _, err := tail.scanRange(context.Background(), Checkpoint{}, 5, []Subscriber{sub})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Checkpoint{Block: 5, LogIndex: 0}, cp, "checkpoint must not move past the unacknowledged log")
}

func TestTail_Rewind_StepsBackOneBlock(t *testing.T) {
	src := &stubLogSource{hashes: map[uint64]common.Hash{}}
	tail := newTailForScan(src, Config{})

	cp, _, err := tail.rewind(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cp.Block)
}

func TestTail_Rewind_FindsForkPointInRecordedHistory(t *testing.T) {
	src := &stubLogSource{hashes: map[uint64]common.Hash{
		98: common.HexToHash("0x98"),
		99: common.HexToHash("0xbad"),
	}}
	tail := newTailForScan(src, Config{})
	tail.history = []blockRecord{
		{Block: 98, Hash: common.HexToHash("0x98")},
		{Block: 99, Hash: common.HexToHash("0x99")}, // node now disagrees with what was recorded
	}

	cp, hash, err := tail.rewind(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(98), cp.Block, "rewind must land on the last block where recorded and live hashes still agree")
	assert.Equal(t, common.HexToHash("0x98"), hash)
}

func TestTail_Rewind_FallsBackToOneBlockWhenHistoryExhausted(t *testing.T) {
	src := &stubLogSource{hashes: map[uint64]common.Hash{}}
	tail := newTailForScan(src, Config{})
	tail.history = []blockRecord{
		{Block: 99, Hash: common.HexToHash("0xdead")}, // never matches stub's derived hash
	}

	cp, _, err := tail.rewind(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cp.Block)
}

func TestBridgeEventDecoder_DecodeIdentifiesEventBySignature(t *testing.T) {
	d := NewBridgeEventDecoder()
	raw := types.Log{Topics: []common.Hash{SigMintTokenEvent}, BlockNumber: 10, Index: 2}

	decoded, matched := d.Decode(raw)
	require.True(t, matched)
	assert.Equal(t, "MintTokenEvent", decoded.EventName)
	assert.Equal(t, uint64(10), decoded.BlockNum)
}

func TestBridgeEventDecoder_DecodeRejectsUnknownSignature(t *testing.T) {
	d := NewBridgeEventDecoder()
	_, matched := d.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	assert.False(t, matched)
}

func TestBridgeEventDecoder_DecodeMintRoundTripsPackedData(t *testing.T) {
	d := NewBridgeEventDecoder()
	packed, err := d.mintArgs.Pack(
		big.NewInt(500),
		[32]byte{1},
		[32]byte{2},
		common.HexToAddress("0xaaaa"),
		common.HexToAddress("0xbbbb"),
		uint32(7),
	)
	require.NoError(t, err)

	log := DecodedLog{Raw: types.Log{Data: packed}}
	mint, err := d.DecodeMint(log)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), mint.Amount)
	assert.Equal(t, uint32(7), mint.Nonce)
	assert.Equal(t, common.HexToAddress("0xbbbb"), mint.Recipient)
}

func TestBridgeEventDecoder_DecodeDeployedRoundTripsPackedData(t *testing.T) {
	d := NewBridgeEventDecoder()
	packed, err := d.deployArgs.Pack("Wrapped Bitcoin", "wBTC", [32]byte{9}, common.HexToAddress("0xcccc"))
	require.NoError(t, err)

	deployed, err := d.DecodeDeployed(DecodedLog{Raw: types.Log{Data: packed}})
	require.NoError(t, err)
	assert.Equal(t, "Wrapped Bitcoin", deployed.Name)
	assert.Equal(t, "wBTC", deployed.Symbol)
	assert.Equal(t, common.HexToAddress("0xcccc"), deployed.WrappedERC20)
}
