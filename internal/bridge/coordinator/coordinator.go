// Package coordinator wires the Crypto/Signer Adapter, Event Log Tail,
// Operation Store, Mint Order Codec, Task Scheduler, and Bridge
// Contract Protocol into the per-deposit Discover -> Confirm ->
// Authorize -> Deliver -> Finalize pipeline, and answers the query
// surface CLIs and dashboards drive it through.
//
// The orchestration loop generalizes the reference chain-adapter's
// request-lifecycle handlers (src/chainadapter/adapter.go's
// Build/Sign/Broadcast sequence, chained by a caller) into a single
// driver over the Operation Store; the nonce-reconciliation path is
// grounded on polygate's optimistic-local-then-reconcile NonceManager
// (other_examples/.../polygate/internal/manager/nonce.go).
package coordinator

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
	"github.com/btfbridge/coordinator/internal/bridge/contract"
	"github.com/btfbridge/coordinator/internal/bridge/eventlog"
	"github.com/btfbridge/coordinator/internal/bridge/metrics"
	"github.com/btfbridge/coordinator/internal/bridge/mintorder"
	"github.com/btfbridge/coordinator/internal/bridge/scheduler"
	"github.com/btfbridge/coordinator/internal/bridge/signer"
	"github.com/btfbridge/coordinator/internal/bridge/store"
)

// tokenPairRefreshInterval is how often RefreshTokenPairs re-scans the
// bridge contract's registry for newly deployed EVM-side pairs.
const tokenPairRefreshInterval = 5 * time.Minute

// Config tunes the coordinator loop; field names and defaults mirror
// AdminConfig's recognized options.
type Config struct {
	MinConfirmations uint32
	MaxBatch         uint32
	RetryBaseMs      uint64
	RetryCapMs       uint64
	DepositFee       uint64
}

// Coordinator drives the bridge pipeline. It is parametric in the set
// of base-chain adapters, per the dynamic-dispatch design note: nothing
// here knows about Bitcoin, ICRC-2, or any specific chain.
type Coordinator struct {
	cfg       Config
	adapters  map[bridge.BaseChainKind]bridge.BaseChainAdapter
	signer    signer.Signer
	store     store.Store
	sched     *scheduler.Scheduler
	dest      *contract.State
	metrics   metrics.CoordinatorMetrics
	log       zerolog.Logger
	chainID   uint32
	bridgeAddr *[20]byte

	tail         *eventlog.Tail
	eventDecoder *eventlog.BridgeEventDecoder

	tokenMu        sync.RWMutex
	tokenChainKind map[bridge.TokenID]bridge.BaseChainKind
}

func New(
	cfg Config,
	adapters map[bridge.BaseChainKind]bridge.BaseChainAdapter,
	sgn signer.Signer,
	st store.Store,
	sched *scheduler.Scheduler,
	dest *contract.State,
	m metrics.CoordinatorMetrics,
	chainID uint32,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg: cfg, adapters: adapters, signer: sgn, store: st,
		sched: sched, dest: dest, metrics: m, chainID: chainID,
		log: log.With().Str("component", "coordinator").Logger(),
	}
}

// SetBridgeContract records the destination bridge address the
// coordinator is currently targeting, answering the
// get_bridge_contract/set_bridge_contract query pair.
func (c *Coordinator) SetBridgeContract(addr [20]byte) { c.bridgeAddr = &addr }

func (c *Coordinator) GetBridgeContract() (*[20]byte, bool) {
	if c.bridgeAddr == nil {
		return nil, false
	}
	return c.bridgeAddr, true
}

func (c *Coordinator) GetEVMAddress(ctx context.Context) ([20]byte, error) {
	return c.signer.Address(ctx)
}

func (c *Coordinator) GetMetrics() metrics.Snapshot { return c.metrics.Snapshot() }

// SetEventTail wires an Event Log Tail into the coordinator so burn
// events observed on the wrapped side drive the base-bound withdrawal
// flow. Until this is called, KindCollectEvmEvents tasks are no-ops.
func (c *Coordinator) SetEventTail(tail *eventlog.Tail, dec *eventlog.BridgeEventDecoder) {
	c.tail = tail
	c.eventDecoder = dec
}

// RegisterBaseToken records which base-chain adapter settles
// withdrawals for a principal-tagged token id (Bitcoin, BRC-20, Runes,
// ICRC-2 all share tag 0x00, so the tag alone can't disambiguate). EVM
// secondary-chain tokens never need this: their tag carries the chain
// id directly.
func (c *Coordinator) RegisterBaseToken(tokenID bridge.TokenID, kind bridge.BaseChainKind) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.tokenChainKind == nil {
		c.tokenChainKind = make(map[bridge.TokenID]bridge.BaseChainKind)
	}
	c.tokenChainKind[tokenID] = kind
}

func (c *Coordinator) lookupBaseChainKind(id bridge.TokenID) (bridge.BaseChainKind, bool) {
	if id.Tag() == bridge.TagEVM {
		return bridge.ChainEVM, true
	}
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	kind, ok := c.tokenChainKind[id]
	return kind, ok
}

// RefreshTokenPairs re-derives the token-id to chain-kind lookup for
// every EVM-tagged pair currently in the bridge contract's registry, so
// pairs deployed after startup are picked up without a restart.
func (c *Coordinator) RefreshTokenPairs() {
	_, bases := c.dest.Registry.List()
	for _, base := range bases {
		if base.Tag() == bridge.TagEVM {
			c.RegisterBaseToken(base, bridge.ChainEVM)
		}
	}
}

// SubmitDeposit is the source-side entry point for a proven deposit:
// Discover. It dedupes on (source_tx, source_index), creates the
// Operation, and enqueues a DepositScan task for it.
func (c *Coordinator) SubmitDeposit(candidate bridge.DepositCandidate) (uint64, error) {
	key := candidate.Key()
	if existing, ok, err := c.store.ByKey(key); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}

	op := store.Operation{
		State:       store.StateAwaitingConfirmations,
		Memo:        candidate.Memo,
		User:        candidate.Recipient,
		SourceTx:    candidate.SourceTx,
		SourceIndex: candidate.SourceIndex,
		ChainKind:   candidate.ChainKind,
		FromToken:   candidate.FromToken,
		SenderID:    candidate.SenderID,
		Amount:      candidate.Amount,
	}
	id, err := c.store.Create(op)
	if err != nil {
		return 0, err
	}
	c.metrics.RecordOperationTransition("", string(store.StateAwaitingConfirmations))

	if _, err := c.sched.Enqueue(scheduler.KindDepositScan, id, candidate.SourceTx, candidate.Recipient, time.Now()); err != nil {
		return 0, err
	}
	return id, nil
}

// RunDepositScan performs Confirm: check confirmation depth and taint,
// and on success transition to Authorize by issuing a mint order.
func (c *Coordinator) RunDepositScan(ctx context.Context, opID uint64, kind bridge.BaseChainKind, candidate bridge.DepositCandidate) error {
	adapter, ok := c.adapters[kind]
	if !ok {
		return chainerr.Fatal("ERR_UNKNOWN_CHAIN_KIND", "no adapter registered for chain kind", nil)
	}
	confirmation, err := adapter.ConfirmDeposit(ctx, candidate)
	if err != nil {
		return err
	}
	if !confirmation.Sufficient {
		return chainerr.Pending(chainerr.CodeInsufficientConf, "awaiting further confirmations")
	}
	if !confirmation.TaintOK {
		return c.fail(opID, chainerr.CodeTxNotFound, "deposit failed taint screening")
	}
	return c.issueMintOrder(ctx, opID, candidate)
}

// issueMintOrder is Authorize: assign (sender_id, nonce), build and
// sign the MintOrder, persist it, and advance the operation to Signed.
func (c *Coordinator) issueMintOrder(ctx context.Context, opID uint64, candidate bridge.DepositCandidate) error {
	wrapped, ok := c.dest.Registry.GetWrappedToken(candidate.FromToken)
	if !ok {
		return c.fail(opID, chainerr.CodeTokensNotBridged, "no wrapped token registered for deposit's base token id")
	}

	nonce := c.dest.Nonces.NextFree(candidate.SenderID)

	order := mintorder.MintOrder{
		Amount:            new(big.Int).Set(candidate.Amount),
		SenderID:          candidate.SenderID,
		FromTokenID:       candidate.FromToken,
		Recipient:         candidate.Recipient,
		ToERC20:           wrapped,
		Nonce:             nonce,
		SenderChainID:     uint32(0),
		RecipientChainID:  c.chainID,
		Decimals:          18,
	}
	if c.cfg.DepositFee > 0 {
		order.FeePayer = candidate.Recipient
	}

	encoded := order.Encode()
	digest := mintorder.Digest(encoded)
	sig, err := c.signer.Sign(ctx, digest)
	if err != nil {
		return err
	}

	err = c.store.Update(opID, func(op *store.Operation) error {
		op.Order = &order
		op.Signature = (*[mintorder.SignatureBytes]byte)(&sig)
		op.State = store.StateSigned
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.RecordOperationTransition(string(store.StateAwaitingConfirmations), string(store.StateSigned))

	_, err = c.sched.Enqueue(scheduler.KindDeliverMintOrder, opID, "", candidate.Recipient, time.Now())
	return err
}

// PendingDelivery is one Signed operation eligible for batching.
type PendingDelivery struct {
	OpID  uint64
	Order mintorder.MintOrder
	Sig   [mintorder.SignatureBytes]byte
}

// CollectPending gathers every Signed operation for addr into batching
// candidates, carrying each operation's persisted order and signature
// forward as delivery evidence.
func (c *Coordinator) CollectPending(addr [20]byte) ([]PendingDelivery, error) {
	ids, err := c.store.ByUser(addr)
	if err != nil {
		return nil, err
	}
	pending := make([]PendingDelivery, 0, len(ids))
	for _, id := range ids {
		op, err := c.store.Get(id)
		if err != nil {
			return nil, err
		}
		if op == nil || op.State != store.StateSigned || op.Order == nil || op.Signature == nil {
			continue
		}
		pending = append(pending, PendingDelivery{OpID: id, Order: *op.Order, Sig: *op.Signature})
	}
	return pending, nil
}

// BuildBatch implements the tie-break rule: orders sorted by
// (recipient_chain_id, op_id ascending), cut at the first index that
// would exceed MAX_BATCH, preserving per-sender-nonce monotonicity
// within the resulting slice (guaranteed by construction since nonces
// are assigned in op-id order per sender).
func (c *Coordinator) BuildBatch(pending []PendingDelivery) []PendingDelivery {
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Order.RecipientChainID != pending[j].Order.RecipientChainID {
			return pending[i].Order.RecipientChainID < pending[j].Order.RecipientChainID
		}
		return pending[i].OpID < pending[j].OpID
	})
	max := c.cfg.MaxBatch
	if max == 0 || uint32(len(pending)) < max {
		return pending
	}
	return pending[:max]
}

// DeliverBatch is Deliver: submit batchMint for a built batch and, once
// the call returns per-order statuses, mark every operation in it
// Delivered. If the call itself fails nothing is recorded and the error
// is returned, so the whole batch is retried; a per-order rejection is
// resolved by Finalize from the returned statuses.
func (c *Coordinator) DeliverBatch(batch []PendingDelivery) ([]contract.StatusCode, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	encoded := make([]byte, 0, len(batch)*mintorder.ORDER_BYTES)
	for _, d := range batch {
		encoded = append(encoded, d.Order.Encode()...)
	}
	batchDigest := mintorder.BatchDigest(encoded)
	minterSig, err := c.signer.Sign(context.Background(), batchDigest)
	if err != nil {
		return nil, err
	}

	toProcess := make([]uint32, len(batch))
	for i := range batch {
		toProcess[i] = uint32(i)
	}

	statuses, err := c.dest.BatchMint(encoded, [mintorder.SignatureBytes]byte(minterSig), toProcess)
	if err != nil {
		return nil, err
	}

	for _, d := range batch {
		if err := c.store.Update(d.OpID, func(op *store.Operation) error {
			op.State = store.StateDelivered
			return nil
		}); err != nil {
			c.log.Warn().Err(err).Uint64("op_id", d.OpID).Msg("failed to mark operation delivered")
		}
		c.metrics.RecordOperationTransition(string(store.StateSigned), string(store.StateDelivered))
	}
	return statuses, nil
}

// Finalize applies Finalize: translate a batchMint status code into a
// terminal or retryable operation transition.
func (c *Coordinator) Finalize(opID uint64, status contract.StatusCode) error {
	switch status {
	case contract.StatusOK:
		if err := c.store.Update(opID, func(op *store.Operation) error {
			op.State = store.StateFinalized
			return nil
		}); err != nil {
			return err
		}
		c.metrics.RecordOperationTransition(string(store.StateDelivered), string(store.StateFinalized))
		c.sched.CancelForOp(opID)
		return nil
	case contract.StatusUsedNonce:
		// State divergence: move the sender's local nonce counter to
		// one past the rejected order's nonce and return a
		// StateDivergence error rather than failing the operation. The
		// stored order is not rebuilt or re-signed here, and the
		// operation stays Delivered.
		op, err := c.store.Get(opID)
		if err == nil && op != nil && op.Order != nil {
			c.dest.Nonces.ReconcileNonce(op.Order.SenderID, op.Order.Nonce+1)
		}
		return chainerr.Divergence(chainerr.CodeNonceDivergence, "nonce already used on-chain", nil)
	case contract.StatusProcessingNotRequested:
		return nil
	default:
		return c.fail(opID, statusReason(status), "batchMint rejected order deterministically")
	}
}

func statusReason(s contract.StatusCode) string {
	switch s {
	case contract.StatusZeroRecipient:
		return chainerr.CodeZeroRecipient
	case contract.StatusZeroAmount:
		return chainerr.CodeZeroAmount
	case contract.StatusTokensNotBridged:
		return chainerr.CodeTokensNotBridged
	case contract.StatusUnexpectedRecipientChainID:
		return chainerr.CodeWrongChainID
	default:
		return "ERR_UNKNOWN_STATUS"
	}
}

func (c *Coordinator) fail(opID uint64, reason, message string) error {
	err := c.store.Update(opID, func(op *store.Operation) error {
		op.State = store.StateFailed
		op.FailReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.RecordOperationTransition("", string(store.StateFailed))
	c.sched.CancelForOp(opID)
	return chainerr.Deterministic(reason, message, nil)
}

// burnSubscriber is the eventlog.Subscriber driving the base-bound
// flow: a burn observed on the wrapped side authorizes a withdrawal
// settled by the adapter that owns the burned token's base chain.
func (c *Coordinator) burnSubscriber(ctx context.Context, log eventlog.DecodedLog) error {
	if log.EventName != "BurnTokenEvent" {
		return nil
	}
	return c.handleBurnEvent(ctx, log)
}

// handleBurnEvent is Discover+Authorize+Deliver collapsed into one step
// for the reverse direction: the tail's own confirmation depth already
// enforces the finality a forward-direction deposit gets from
// ConfirmDeposit, so there's no separate confirm-then-batch stage here.
func (c *Coordinator) handleBurnEvent(ctx context.Context, log eventlog.DecodedLog) error {
	key := log.Key()
	if _, ok, err := c.store.ByKey(key); err != nil {
		return err
	} else if ok {
		return nil
	}

	ev, err := c.eventDecoder.DecodeBurn(log)
	if err != nil {
		return chainerr.Deterministic(chainerr.CodeMalformedEvent, "failed to decode burn event", err)
	}

	toToken := bridge.TokenID(ev.ToToken)
	kind, ok := c.lookupBaseChainKind(toToken)
	if !ok {
		return chainerr.Fatal(chainerr.CodeUnknownChainKind, "no base chain registered for withdrawal token id", nil)
	}
	adapter, ok := c.adapters[kind]
	if !ok {
		return chainerr.Fatal(chainerr.CodeUnknownChainKind, "no adapter registered for chain kind", nil)
	}

	op := store.Operation{
		State:       store.StateSigned,
		Memo:        ev.Memo,
		SourceTx:    log.TxHash.Hex(),
		SourceIndex: log.LogIndex,
		ChainKind:   kind,
		FromToken:   toToken,
		SenderID:    ev.RecipientID,
		Amount:      new(big.Int).Set(ev.Amount),
	}
	id, err := c.store.Create(op)
	if err != nil {
		return err
	}
	c.metrics.RecordOperationTransition("", string(store.StateSigned))

	receipt, err := adapter.SettleWithdrawal(ctx, bridge.WithdrawalInstruction{
		ToTokenID: toToken,
		Recipient: ev.RecipientID[:],
		Amount:    new(big.Int).Set(ev.Amount),
		Memo:      ev.Memo,
	})
	if err != nil {
		if chainerr.ClassificationOf(err) == chainerr.DeterministicRejection {
			return c.fail(id, statusReasonForError(err), "withdrawal settlement rejected deterministically")
		}
		return err
	}

	if err := c.store.Update(id, func(op *store.Operation) error {
		op.State = store.StateFinalized
		op.DestTxHash = receipt.TxHash
		return nil
	}); err != nil {
		return err
	}
	c.metrics.RecordOperationTransition(string(store.StateSigned), string(store.StateFinalized))
	return nil
}

func statusReasonForError(err error) string {
	var ce *chainerr.Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "ERR_WITHDRAWAL_REJECTED"
}

// candidateFromOperation rebuilds a DepositCandidate from the subset of
// an Operation persisted at SubmitDeposit time, so a DepositScan task
// popped after a restart doesn't need a separate durable candidate
// table to re-run.
func candidateFromOperation(op *store.Operation) bridge.DepositCandidate {
	return bridge.DepositCandidate{
		ChainKind:   op.ChainKind,
		SourceTx:    op.SourceTx,
		SourceIndex: op.SourceIndex,
		SenderID:    op.SenderID,
		FromToken:   op.FromToken,
		Recipient:   op.User,
		Amount:      op.Amount,
		Memo:        op.Memo,
		ObservedAt:  op.CreatedAt,
	}
}

// deliverBatchForUser runs Deliver+Finalize for every Signed operation
// currently pending for addr. Deterministic per-order rejections are
// already persisted as Failed by Finalize and are not propagated as a
// task failure; only batch-wide or divergence errors are, so the
// scheduler retries the right thing.
func (c *Coordinator) deliverBatchForUser(addr [20]byte) error {
	pending, err := c.CollectPending(addr)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	batch := c.BuildBatch(pending)
	statuses, err := c.DeliverBatch(batch)
	if err != nil {
		return err
	}
	var retryable error
	for i, d := range batch {
		if ferr := c.Finalize(d.OpID, statuses[i]); ferr != nil {
			if chainerr.ClassificationOf(ferr) != chainerr.DeterministicRejection && retryable == nil {
				retryable = ferr
			}
		}
	}
	return retryable
}

// RunOnce pops one due task from the scheduler, dispatches it by kind,
// and commits Complete/Retry/Fail based on the resulting error's
// classification. Returns false when nothing is currently runnable.
func (c *Coordinator) RunOnce(ctx context.Context) (bool, error) {
	t, ok := c.sched.Next()
	if !ok {
		return false, nil
	}

	started := time.Now()
	taskErr := c.dispatch(ctx, t)
	if taskErr != nil {
		c.log.Warn().Err(taskErr).Str("kind", string(t.Kind)).Uint64("task_id", t.ID).Msg("task failed")
	}
	c.metrics.RecordTaskRun(string(t.Kind), time.Since(started), taskErr == nil)

	switch {
	case taskErr == nil:
		return true, c.sched.Complete(t)
	case isRetryable(taskErr):
		return true, c.sched.Retry(t)
	default:
		return true, c.sched.Fail(t)
	}
}

func isRetryable(err error) bool {
	switch chainerr.ClassificationOf(err) {
	case chainerr.Transient, chainerr.ConfirmationPending, chainerr.StateDivergence:
		return true
	default:
		return false
	}
}

// dispatch runs the handler body for a single popped task.
func (c *Coordinator) dispatch(ctx context.Context, t *scheduler.Task) error {
	switch t.Kind {
	case scheduler.KindDepositScan:
		return c.runDepositScanTask(ctx, t)
	case scheduler.KindDeliverMintOrder:
		return c.deliverBatchForUser(t.Addr)
	case scheduler.KindCollectEvmEvents:
		return c.runCollectEvmEventsTask(ctx)
	case scheduler.KindRefreshTokenPairs:
		return c.runRefreshTokenPairsTask()
	default:
		return chainerr.Fatal(chainerr.CodeUnknownChainKind, "no handler registered for task kind "+string(t.Kind), nil)
	}
}

func (c *Coordinator) runDepositScanTask(ctx context.Context, t *scheduler.Task) error {
	op, err := c.store.Get(t.OpID)
	if err != nil {
		return err
	}
	if op == nil || op.State.IsTerminal() {
		return nil
	}
	return c.RunDepositScan(ctx, t.OpID, op.ChainKind, candidateFromOperation(op))
}

// runCollectEvmEventsTask drives one tail tick and re-enqueues itself,
// making event collection a recurring background task rather than a
// dedicated goroutine racing the scheduler's own state.
func (c *Coordinator) runCollectEvmEventsTask(ctx context.Context) error {
	if c.tail == nil {
		return nil
	}
	tailed := 0
	counting := func(ctx context.Context, log eventlog.DecodedLog) error {
		tailed++
		return c.burnSubscriber(ctx, log)
	}
	advanced, err := c.tail.Tick(ctx, counting)
	if err != nil {
		return err
	}
	if tailed > 0 {
		c.metrics.RecordEventsTailed(tailed)
	}
	if advanced {
		c.metrics.RecordChainpointAdvance(c.tail.Checkpoint().Block)
	}
	interval := c.tail.PollInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	_, err = c.sched.Enqueue(scheduler.KindCollectEvmEvents, 0, "", [20]byte{}, time.Now().Add(interval))
	return err
}

func (c *Coordinator) runRefreshTokenPairsTask() error {
	c.RefreshTokenPairs()
	_, err := c.sched.Enqueue(scheduler.KindRefreshTokenPairs, 0, "", [20]byte{}, time.Now().Add(tokenPairRefreshInterval))
	return err
}

// StartBackgroundTasks seeds the initial recurring CollectEvmEvents and
// RefreshTokenPairs kicks. Safe to call once per process start;
// duplicate kicks across restarts are harmless since both tasks are
// idempotent no-ops when there's nothing new.
func (c *Coordinator) StartBackgroundTasks() error {
	if c.tail != nil {
		if _, err := c.sched.Enqueue(scheduler.KindCollectEvmEvents, 0, "", [20]byte{}, time.Now()); err != nil {
			return err
		}
	}
	_, err := c.sched.Enqueue(scheduler.KindRefreshTokenPairs, 0, "", [20]byte{}, time.Now())
	return err
}

// ListOperations answers list_operations(filter) for a single user.
func (c *Coordinator) ListOperations(addr [20]byte) ([]*store.Operation, error) {
	ids, err := c.store.ByUser(addr)
	if err != nil {
		return nil, err
	}
	ops := make([]*store.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := c.store.Get(id)
		if err != nil {
			return nil, err
		}
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (c *Coordinator) GetOperation(id uint64) (*store.Operation, error) {
	return c.store.Get(id)
}
