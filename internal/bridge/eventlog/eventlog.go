// Package eventlog implements the Event Log Tail: a checkpointed,
// reorg-aware scanner that delivers destination-chain logs to
// subscribers in strict (block, log_index) order, exactly once per
// observer.
//
// The scan loop is grounded on pushchain's
// universalClient/chains/evm/event_watcher.go (chunked FilterLogs
// polling, per-iteration checkpoint advance) fused with the reference
// chain-adapter's rpc.SimpleHealthTracker backoff numbers
// (src/chainadapter/rpc/health.go).
package eventlog

import (
	"context"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// Checkpoint identifies the last log this tail has fully delivered.
type Checkpoint struct {
	Block    uint64
	LogIndex uint32
}

// Less reports whether c sorts strictly before o in (block, log_index) order.
func (c Checkpoint) Less(o Checkpoint) bool {
	if c.Block != o.Block {
		return c.Block < o.Block
	}
	return c.LogIndex < o.LogIndex
}

// DecodedLog is a bridge-contract log event after signature-based
// decoding, carrying enough identity for idempotent downstream handling.
type DecodedLog struct {
	TxHash     common.Hash
	BlockNum   uint64
	LogIndex   uint32
	EventName  string
	Raw        types.Log
	Checkpoint Checkpoint
}

// Key returns the (tx_hash, log_index) identity subscribers must dedupe
// on, per the reorg-handling contract.
func (d DecodedLog) Key() string {
	return d.TxHash.Hex() + "#" + itoa(uint64(d.LogIndex))
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

// Decoder turns a raw log into zero or one DecodedLog (nil if the log's
// topic0 doesn't match a known event signature).
type Decoder interface {
	Decode(raw types.Log) (*DecodedLog, bool)
	Topics() []common.Hash
}

// LogSource is the narrow RPC surface the tail needs: current head and a
// filtered log fetch. EVMLogSource (evm.go) implements it by calling a
// single EVMClient directly, with no endpoint failover.
type LogSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, contract common.Address, topics []common.Hash) ([]types.Log, error)
	// BlockHash returns the canonical hash the node currently has for
	// block, used to detect a reorg under last_scanned.block.
	BlockHash(ctx context.Context, block uint64) (common.Hash, error)
}

// CheckpointStore persists the tail's resume point and the block hash it
// was taken against, so a reorg under the checkpoint can be detected on
// restart.
type CheckpointStore interface {
	Load(ctx context.Context) (cp Checkpoint, blockHash common.Hash, ok bool, err error)
	Save(ctx context.Context, cp Checkpoint, blockHash common.Hash) error
}

// Subscriber acknowledges a delivered log before the tail is allowed to
// advance its checkpoint past it.
type Subscriber func(ctx context.Context, log DecodedLog) error

// Config tunes chunking, confirmation depth and backoff.
type Config struct {
	Contract           common.Address
	Confirmations      uint64
	MaxBlocksPerScan   uint64
	PollInterval       time.Duration
	RetryBaseMs        uint64
	RetryCapMs         uint64
}

// maxHistory bounds how many chunk-boundary block hashes rewind can
// search before falling back to a single-block step.
const maxHistory = 256

// blockRecord is a (block, hash) pair recorded at a scanRange chunk
// boundary, used by rewind to find where a reorg diverged from the
// canonical chain.
type blockRecord struct {
	Block uint64
	Hash  common.Hash
}

// Tail is the Event Log Tail component.
type Tail struct {
	src     LogSource
	dec     Decoder
	store   CheckpointStore
	cfg     Config
	logger  zerolog.Logger
	attempt int

	loaded   bool
	cp       Checkpoint
	lastHash common.Hash
	history  []blockRecord
}

func New(src LogSource, dec Decoder, store CheckpointStore, cfg Config, logger zerolog.Logger) *Tail {
	return &Tail{
		src:    src,
		dec:    dec,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "event_log_tail").Logger(),
	}
}

// PollInterval reports the configured interval between ticks, used by
// callers that drive Tick themselves instead of calling Run.
func (t *Tail) PollInterval() time.Duration { return t.cfg.PollInterval }

// Checkpoint reports the last checkpoint this tail has advanced to.
func (t *Tail) Checkpoint() Checkpoint { return t.cp }

func (t *Tail) ensureLoaded(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	cp, lastHash, ok, err := t.store.Load(ctx)
	if err != nil {
		return chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to load checkpoint", nil, err)
	}
	if ok {
		t.cp, t.lastHash = cp, lastHash
	}
	t.loaded = true
	return nil
}

// Run polls until ctx is cancelled, invoking subs for every decoded log
// in strict order and advancing the durable checkpoint only once every
// subscriber has acknowledged.
func (t *Tail) Run(ctx context.Context, subs ...Subscriber) error {
	if err := t.ensureLoaded(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := t.Tick(ctx, subs...); err != nil {
			t.logger.Error().Err(err).Msg("tick failed, will retry")
			t.backoffSleep(ctx)
			continue
		}
		t.attempt = 0
	}
}

// Tick runs a single poll-scan-advance pass without blocking on a
// ticker, so a caller (the task scheduler) can drive the tail one
// due-task at a time instead of owning a dedicated goroutine. Returns
// whether the checkpoint advanced.
func (t *Tail) Tick(ctx context.Context, subs ...Subscriber) (bool, error) {
	if err := t.ensureLoaded(ctx); err != nil {
		return false, err
	}

	if t.cp.Block > 0 {
		if canonical, err := t.src.BlockHash(ctx, t.cp.Block); err == nil {
			if t.lastHash != (common.Hash{}) && canonical != t.lastHash {
				rewound, rewoundHash, rerr := t.rewind(ctx, t.cp.Block)
				if rerr != nil {
					return false, rerr
				}
				t.logger.Warn().Uint64("from_block", t.cp.Block).Uint64("to_block", rewound.Block).
					Msg("reorg detected, rewound checkpoint")
				t.cp, t.lastHash = rewound, rewoundHash
			}
		}
	}

	head, err := t.src.HeadBlock(ctx)
	if err != nil {
		return false, chainerr.Transientf(chainerr.CodeRPCTimeout, "failed to fetch head block", nil, err)
	}
	if head < t.cfg.Confirmations {
		return false, nil
	}
	safeHead := head - t.cfg.Confirmations
	if t.cp.Block >= safeHead {
		return false, nil
	}

	newCp, newHash, err := t.scanRange(ctx, t.cp, safeHead, subs)
	if err != nil {
		return false, err
	}
	t.cp, t.lastHash = newCp, newHash
	if err := t.store.Save(ctx, t.cp, t.lastHash); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist checkpoint")
	}
	return true, nil
}

// scanRange scans (cp.Block, safeHead] in MaxBlocksPerScan chunks,
// dispatching every decoded log to all subscribers before moving the
// checkpoint past it. On error it returns the checkpoint of the last
// log every subscriber acknowledged together with the error.
func (t *Tail) scanRange(ctx context.Context, cp Checkpoint, safeHead uint64, subs []Subscriber) (Checkpoint, common.Hash, error) {
	from := cp.Block + 1
	topics := t.dec.Topics()

	for from <= safeHead {
		to := from + t.cfg.MaxBlocksPerScan - 1
		if to > safeHead {
			to = safeHead
		}

		logs, err := t.src.FilterLogs(ctx, from, to, t.cfg.Contract, topics)
		if err != nil {
			return cp, common.Hash{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "filter_logs failed", nil, err)
		}

		for _, raw := range logs {
			decoded, matched := t.dec.Decode(raw)
			if !matched {
				continue
			}
			decoded.Checkpoint = Checkpoint{Block: decoded.BlockNum, LogIndex: decoded.LogIndex}
			if !decoded.Checkpoint.Less(cp) && decoded.Checkpoint != cp {
				for _, sub := range subs {
					if err := sub(ctx, *decoded); err != nil {
						return cp, common.Hash{}, err
					}
				}
				cp = decoded.Checkpoint
			}
		}

		hash, err := t.src.BlockHash(ctx, to)
		if err != nil {
			return cp, common.Hash{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "block_hash failed", nil, err)
		}
		t.recordHistory(to, hash)
		cp = Checkpoint{Block: to, LogIndex: 0}
		if to == safeHead {
			return cp, hash, nil
		}
		from = to + 1
	}
	hash, err := t.src.BlockHash(ctx, safeHead)
	if err != nil {
		return cp, common.Hash{}, chainerr.Transientf(chainerr.CodeRPCTimeout, "block_hash failed", nil, err)
	}
	t.recordHistory(safeHead, hash)
	return cp, hash, nil
}

// recordHistory appends a chunk-boundary (block, hash) pair for rewind
// to search on the next reorg, trimming to the most recent maxHistory
// entries.
func (t *Tail) recordHistory(block uint64, hash common.Hash) {
	t.history = append(t.history, blockRecord{Block: block, Hash: hash})
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
}

// rewind walks backward through recorded chunk-boundary history looking
// for a block whose hash the node still agrees with, i.e. the point
// where a reorg diverged from what this tail last scanned, and returns
// that block as the new checkpoint so everything after it re-scans. If
// no recorded history survives the reorg (or none has been recorded
// yet, as right after startup), falls back to stepping back one block
// from fromBlock.
func (t *Tail) rewind(ctx context.Context, fromBlock uint64) (Checkpoint, common.Hash, error) {
	for i := len(t.history) - 1; i >= 0; i-- {
		rec := t.history[i]
		if rec.Block >= fromBlock {
			continue
		}
		hash, err := t.src.BlockHash(ctx, rec.Block)
		if err != nil {
			return Checkpoint{}, common.Hash{}, err
		}
		if hash == rec.Hash {
			return Checkpoint{Block: rec.Block, LogIndex: 0}, hash, nil
		}
	}

	target := fromBlock
	if target > 0 {
		target--
	}
	hash, err := t.src.BlockHash(ctx, target)
	if err != nil {
		return Checkpoint{}, common.Hash{}, err
	}
	return Checkpoint{Block: target, LogIndex: 0}, hash, nil
}

// backoffSleep implements backoff(n) = min(cap, base*2^n) with full
// jitter, per the retry policy shared with the task scheduler.
func (t *Tail) backoffSleep(ctx context.Context) {
	n := t.attempt
	t.attempt++
	capMs := t.cfg.RetryCapMs
	if capMs == 0 {
		capMs = 30_000
	}
	baseMs := t.cfg.RetryBaseMs
	if baseMs == 0 {
		baseMs = 500
	}
	maxDelay := baseMs << uint(minInt(n, 20))
	if maxDelay > capMs || maxDelay < baseMs {
		maxDelay = capMs
	}
	delay := time.Duration(rand.Int63n(int64(maxDelay)+1)) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
