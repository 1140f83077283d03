// Package contract models the destination bridge contract's state
// machine: token-pair registry, per-sender nonce ring, pause flag and
// controller set, and the batchMint/burn/admin entry points. The
// coordinator implements this alongside the off-chain peer so both
// sides agree on status codes and ordering.
//
// The off-chain nonce bookkeeping style (optimistic local tracking,
// reconcile-from-chain on conflict) is grounded on polygate's
// NonceManager (internal/manager/nonce.go); the withdrawal
// authorization flow (collect metadata, invoke a signer, assign a
// request id before the signed artifact exists) is grounded on gonka's
// msg_server_request_bridge_withdrawal.go.
package contract

import (
	"math/big"
	"sync"

	"github.com/btfbridge/coordinator/internal/bridge"
)

// StatusCode is a batchMint per-order result, stable across versions.
type StatusCode uint8

const (
	StatusOK                          StatusCode = 0
	StatusProcessingNotRequested      StatusCode = 1
	StatusZeroRecipient               StatusCode = 2
	StatusZeroAmount                  StatusCode = 3
	StatusUsedNonce                   StatusCode = 4
	StatusTokensNotBridged            StatusCode = 5
	StatusUnexpectedRecipientChainID  StatusCode = 6
)

// TokenPair is a registered 1-to-1 mapping between a wrapped ERC-20 and
// a base-chain token id. Immutable once registered.
type TokenPair struct {
	Wrapped     [20]byte
	BaseTokenID bridge.TokenID
}

// Registry holds registered token pairs, bijective in both directions.
type Registry struct {
	mu         sync.RWMutex
	byWrapped  map[[20]byte]bridge.TokenID
	byBase     map[bridge.TokenID][20]byte
	order      []TokenPair
}

func NewRegistry() *Registry {
	return &Registry{
		byWrapped: make(map[[20]byte]bridge.TokenID),
		byBase:    make(map[bridge.TokenID][20]byte),
	}
}

// Register records a new pair. Returns false if either side is already mapped.
func (r *Registry) Register(pair TokenPair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byWrapped[pair.Wrapped]; ok {
		return false
	}
	if _, ok := r.byBase[pair.BaseTokenID]; ok {
		return false
	}
	r.byWrapped[pair.Wrapped] = pair.BaseTokenID
	r.byBase[pair.BaseTokenID] = pair.Wrapped
	r.order = append(r.order, pair)
	return true
}

// GetBaseToken returns the base token id mapped to a wrapped address.
func (r *Registry) GetBaseToken(wrapped [20]byte) (bridge.TokenID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byWrapped[wrapped]
	return id, ok
}

// GetWrappedToken returns the wrapped address mapped to a base token id.
func (r *Registry) GetWrappedToken(base bridge.TokenID) ([20]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byBase[base]
	return w, ok
}

// IsRegisteredPair checks the exact (wrapped, base) pair is registered,
// the check batchMint performs before minting.
func (r *Registry) IsRegisteredPair(wrapped [20]byte, base bridge.TokenID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byWrapped[wrapped]
	return ok && id == base
}

// List returns parallel arrays of (wrapped[], base[]) in registration order.
func (r *Registry) List() (wrapped [][20]byte, base []bridge.TokenID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.order {
		wrapped = append(wrapped, p.Wrapped)
		base = append(base, p.BaseTokenID)
	}
	return
}

// NonceRing is a fixed-capacity ring buffer of the last 256 nonces used
// by one sender, per the design note "model as a small fixed array, not
// a heap collection".
type NonceRing struct {
	used  [256]uint32
	begin int
	count int // size = (end - begin) mod 256, tracked directly since begin==end is ambiguous between empty and full
}

func NewNonceRing() *NonceRing {
	return &NonceRing{}
}

// Contains reports whether nonce was pushed into the ring and has not
// since been rotated out.
func (r *NonceRing) Contains(nonce uint32) bool {
	for i := 0; i < r.count; i++ {
		if r.used[(r.begin+i)%256] == nonce {
			return true
		}
	}
	return false
}

// Push records nonce as used, rotating out the oldest entry once full.
func (r *NonceRing) Push(nonce uint32) {
	end := (r.begin + r.count) % 256
	r.used[end] = nonce
	if r.count < 256 {
		r.count++
	} else {
		r.begin = (r.begin + 1) % 256
	}
}

// NonceRegistry holds one NonceRing per sender_id, plus the off-chain
// peer's optimistic next-nonce counter per sender, grounded on
// polygate's NonceManager (GetNextTxNonce/ResetTxNonce generalized into
// NextFree/ReconcileNonce).
type NonceRegistry struct {
	mu    sync.Mutex
	rings map[[32]byte]*NonceRing
	next  map[[32]byte]uint32
}

func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{rings: make(map[[32]byte]*NonceRing), next: make(map[[32]byte]uint32)}
}

// NextFree returns the next nonce the coordinator should assign to
// senderID, optimistically advancing its local counter. On
// StatusUsedNonce the coordinator calls ReconcileNonce to resync from
// the contract's authoritative view before retrying.
func (n *NonceRegistry) NextFree(senderID [32]byte) uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.next[senderID]
	n.next[senderID] = v + 1
	return v
}

// ReconcileNonce resets senderID's local counter to onChainNext after a
// StatusUsedNonce divergence.
func (n *NonceRegistry) ReconcileNonce(senderID [32]byte, onChainNext uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next[senderID] = onChainNext
}

func (n *NonceRegistry) ringFor(senderID [32]byte) *NonceRing {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.rings[senderID]
	if !ok {
		r = NewNonceRing()
		n.rings[senderID] = r
	}
	return r
}

// UsedNonce reports whether (senderID, nonce) is already in the ring.
func (n *NonceRegistry) UsedNonce(senderID [32]byte, nonce uint32) bool {
	return n.ringFor(senderID).Contains(nonce)
}

// RecordNonce pushes (senderID, nonce) into its ring, the step taken
// after a successful mint.
func (n *NonceRegistry) RecordNonce(senderID [32]byte, nonce uint32) {
	n.ringFor(senderID).Push(nonce)
}

// PauseFlag is process-wide mutable state on the contract side.
type PauseFlag struct {
	mu     sync.RWMutex
	paused bool
}

func (p *PauseFlag) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

func (p *PauseFlag) Pause()   { p.mu.Lock(); p.paused = true; p.mu.Unlock() }
func (p *PauseFlag) Unpause() { p.mu.Lock(); p.paused = false; p.mu.Unlock() }

// ControllerSet tracks addresses authorized for administrative actions
// (deployERC20, pause/unpause, addAllowedImplementation, upgradeToAndCall).
type ControllerSet struct {
	mu          sync.RWMutex
	controllers map[[20]byte]bool
}

func NewControllerSet(initial ...[20]byte) *ControllerSet {
	c := &ControllerSet{controllers: make(map[[20]byte]bool)}
	for _, a := range initial {
		c.controllers[a] = true
	}
	return c
}

func (c *ControllerSet) IsController(addr [20]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controllers[addr]
}

func (c *ControllerSet) Add(addr [20]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controllers[addr] = true
}

// AllowedImplementations is the allow-list of upgrade target code
// hashes; upgradeToAndCall requires impl.codehash to be a member.
type AllowedImplementations struct {
	mu    sync.RWMutex
	hashes map[[32]byte]bool
}

func NewAllowedImplementations() *AllowedImplementations {
	return &AllowedImplementations{hashes: make(map[[32]byte]bool)}
}

func (a *AllowedImplementations) Add(codehash [32]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[codehash] = true
}

func (a *AllowedImplementations) IsAllowed(codehash [32]byte) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hashes[codehash]
}

// Balances is a minimal wrapped-token ledger used by the simulated
// mint/transfer/allowance steps batchMint performs; a real deployment
// delegates this to the deployed ERC-20 contracts, but the coordinator
// keeps a mirror so its own "apply an order" path is independently
// checkable in tests.
type allowanceKey struct {
	token, owner, spender [20]byte
}

type Balances struct {
	mu        sync.Mutex
	balances  map[[20]byte]map[[20]byte]*big.Int // token -> holder -> balance
	allowance map[allowanceKey]*big.Int
}

func NewBalances() *Balances {
	return &Balances{
		balances:  make(map[[20]byte]map[[20]byte]*big.Int),
		allowance: make(map[allowanceKey]*big.Int),
	}
}

func (b *Balances) BalanceOf(token, holder [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.balances[token]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := m[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (b *Balances) Mint(token, to [20]byte, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.balances[token]
	if !ok {
		m = make(map[[20]byte]*big.Int)
		b.balances[token] = m
	}
	cur, ok := m[to]
	if !ok {
		cur = big.NewInt(0)
	}
	m[to] = new(big.Int).Add(cur, amount)
}

func (b *Balances) Approve(token, owner, spender [20]byte, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowance[allowanceKey{token: token, owner: owner, spender: spender}] = new(big.Int).Set(amount)
}

// Allowance returns the amount spender may pull from owner's token
// balance.
func (b *Balances) Allowance(token, owner, spender [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	amt, ok := b.allowance[allowanceKey{token: token, owner: owner, spender: spender}]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amt)
}
