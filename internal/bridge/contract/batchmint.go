package contract

import (
	"math/big"
	"sync/atomic"

	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/mintorder"
)

// State is the full on-chain mutable state batchMint/burn/admin
// operations act on, held together the way a single deployed contract
// instance would.
type State struct {
	Minter       [20]byte
	ChainID      uint32
	IsWrappedSide bool
	Registry     *Registry
	Nonces       *NonceRegistry
	PauseState  *PauseFlag
	Controllers  *ControllerSet
	Allowed      *AllowedImplementations
	Balances     *Balances

	// GasReimbursement is the per-order amount charged against
	// FeePayer and credited to Minter, when an order designates a
	// fee payer. Nil or non-positive disables fee charging entirely.
	GasReimbursement *big.Int

	burnOpCounter uint32
}

// SetGasReimbursement sets the flat per-order fee a designated
// FeePayer reimburses the relayer for batch submission gas.
func (s *State) SetGasReimbursement(amount *big.Int) {
	s.GasReimbursement = amount
}

func NewState(minter [20]byte, chainID uint32, wrapped bool, initialControllers ...[20]byte) *State {
	return &State{
		Minter:        minter,
		ChainID:       chainID,
		IsWrappedSide: wrapped,
		Registry:      NewRegistry(),
		Nonces:        NewNonceRegistry(),
		PauseState:    &PauseFlag{},
		Controllers:   NewControllerSet(initialControllers...),
		Allowed:       NewAllowedImplementations(),
		Balances:      NewBalances(),
	}
}

var zeroAddress [20]byte

// BatchMint applies batchMint semantics over a decoded batch, returning
// one status byte per order in input order. Orders whose index is not
// in toProcess (when toProcess is non-empty) receive
// PROCESSING_NOT_REQUESTED and are otherwise untouched.
//
// Returns an error only for the batch-wide preconditions (paused,
// signature shape, signer mismatch) that abort before any per-order
// processing begins; per-order failures are reported as status codes,
// never as an error.
func (s *State) BatchMint(encodedOrders []byte, signature [mintorder.SignatureBytes]byte, toProcess []uint32) ([]StatusCode, error) {
	if s.PauseState.Paused() {
		return nil, errPaused
	}

	orders, err := mintorder.SplitBatch(encodedOrders)
	if err != nil {
		return nil, err
	}

	digest := mintorder.BatchDigest(encodedOrders)
	signer, err := mintorder.RecoverSigner(digest, signature)
	if err != nil {
		return nil, err
	}
	if signer != s.Minter {
		return nil, errMinterMismatch
	}

	process := make(map[uint32]bool, len(toProcess))
	all := len(toProcess) == 0
	for _, idx := range toProcess {
		process[idx] = true
	}

	statuses := make([]StatusCode, len(orders))
	for i, order := range orders {
		idx := uint32(i)
		if !all && !process[idx] {
			statuses[i] = StatusProcessingNotRequested
			continue
		}
		statuses[i] = s.applyOrder(order)
	}
	return statuses, nil
}

// applyOrder runs the per-order checks and effects in the sequence
// described by the batchMint algorithm, returning the resulting status
// code. Never returns an error: every rejection is a status code.
func (s *State) applyOrder(order mintorder.MintOrder) StatusCode {
	if order.RecipientChainID != s.ChainID {
		return StatusUnexpectedRecipientChainID
	}
	if order.Recipient == zeroAddress {
		return StatusZeroRecipient
	}
	if order.Amount == nil || order.Amount.Sign() <= 0 {
		return StatusZeroAmount
	}
	if !s.Registry.IsRegisteredPair(order.ToERC20, order.FromTokenID) {
		return StatusTokensNotBridged
	}
	if s.Nonces.UsedNonce(order.SenderID, order.Nonce) {
		return StatusUsedNonce
	}

	s.Balances.Mint(order.ToERC20, order.Recipient, order.Amount)
	s.Nonces.RecordNonce(order.SenderID, order.Nonce)

	if order.ApproveSpender != zeroAddress {
		s.Balances.Approve(order.ToERC20, order.Recipient, order.ApproveSpender, order.ApproveAmount)
	}
	if order.FeePayer != zeroAddress && s.GasReimbursement != nil && s.GasReimbursement.Sign() > 0 {
		fee := new(big.Int).Set(s.GasReimbursement)
		if payerBal := s.Balances.BalanceOf(order.ToERC20, order.FeePayer); payerBal.Cmp(fee) < 0 {
			fee = payerBal
		}
		if fee.Sign() > 0 {
			s.Balances.Mint(order.ToERC20, order.FeePayer, new(big.Int).Neg(fee))
			s.Balances.Mint(order.ToERC20, s.Minter, fee)
		}
	}

	return StatusOK
}

// Burn applies the reverse-direction entry point. On the wrapped side
// it requires fromERC20 to be registered and burns amount from the
// caller's balance; on the base side it pulls amount into the bridge's
// custody via an allowance, matching transferFrom semantics.
func (s *State) Burn(caller [20]byte, amount *big.Int, fromERC20 [20]byte, toTokenID bridge.TokenID, recipientBytes []byte, memo [32]byte) (operationID uint32, err error) {
	if s.PauseState.Paused() {
		return 0, errPaused
	}
	if s.IsWrappedSide {
		if _, ok := s.Registry.GetBaseToken(fromERC20); !ok {
			return 0, errTokensNotBridged
		}
		bal := s.Balances.BalanceOf(fromERC20, caller)
		if bal.Cmp(amount) < 0 {
			return 0, errInsufficientBalance
		}
		s.Balances.Mint(fromERC20, caller, new(big.Int).Neg(amount))
	} else {
		allowance := s.Balances.Allowance(fromERC20, caller, s.Minter)
		if allowance.Cmp(amount) < 0 {
			return 0, errInsufficientAllowance
		}
		s.Balances.Approve(fromERC20, caller, s.Minter, new(big.Int).Sub(allowance, amount))
		s.Balances.Mint(fromERC20, bridgeCustodyAddress, amount)
	}
	return s.nextOperationID(), nil
}

var bridgeCustodyAddress [20]byte

// Pause/Unpause/AddAllowedImplementation/UpgradeToAndCall are
// controller-gated administrative entry points.

func (s *State) PauseBridge(caller [20]byte) error {
	if !s.Controllers.IsController(caller) {
		return errNotController
	}
	s.PauseState.Pause()
	return nil
}

func (s *State) Unpause(caller [20]byte) error {
	if !s.Controllers.IsController(caller) {
		return errNotController
	}
	s.PauseState.Unpause()
	return nil
}

func (s *State) AddAllowedImplementation(caller [20]byte, codehash [32]byte) error {
	if !s.Controllers.IsController(caller) {
		return errNotController
	}
	s.Allowed.Add(codehash)
	return nil
}

func (s *State) UpgradeToAndCall(caller [20]byte, implCodehash [32]byte) error {
	if !s.Controllers.IsController(caller) {
		return errNotController
	}
	if !s.Allowed.IsAllowed(implCodehash) {
		return errUpgradeNotAllowed
	}
	return nil
}

// DeployERC20 registers a new 1:1 pair. Controller-only when the
// contract is on the wrapped side.
func (s *State) DeployERC20(caller [20]byte, wrappedAddr [20]byte, baseTokenID bridge.TokenID) error {
	if s.IsWrappedSide && !s.Controllers.IsController(caller) {
		return errNotController
	}
	if !s.Registry.Register(TokenPair{Wrapped: wrappedAddr, BaseTokenID: baseTokenID}) {
		return errAlreadyMapped
	}
	return nil
}

func (s *State) nextOperationID() uint32 {
	return atomic.AddUint32(&s.burnOpCounter, 1)
}
