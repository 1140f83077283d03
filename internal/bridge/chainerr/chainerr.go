// Package chainerr classifies errors raised anywhere in the bridge coordinator
// so the task scheduler can decide retry vs. terminal behavior without
// inspecting error strings.
package chainerr

import (
	"errors"
	"fmt"
	"time"
)

// Classification is the stable retry taxonomy from the error handling design.
type Classification int

const (
	// Transient errors are safe to retry with backoff and never change
	// operation state: RPC timeouts, rate limits, signer unavailability.
	Transient Classification = iota

	// ConfirmationPending means the operation must simply wait longer:
	// not enough confirmations yet, pending UTXOs.
	ConfirmationPending

	// DeterministicRejection errors never succeed on retry: invalid
	// signature, used nonce, zero recipient/amount, unregistered pair,
	// wrong chain id. The owning operation moves to Failed.
	DeterministicRejection

	// FatalConfiguration halts the affected scheduler tasks pending
	// admin action: minter/address mismatch, indefinite pause, upgrade
	// codehash not allow-listed.
	FatalConfiguration

	// StateDivergence means the coordinator's local view disagrees with
	// the contract's view (e.g. nonce); the operation stays alive while
	// the coordinator reconciles.
	StateDivergence
)

func (c Classification) String() string {
	switch c {
	case Transient:
		return "Transient"
	case ConfirmationPending:
		return "ConfirmationPending"
	case DeterministicRejection:
		return "DeterministicRejection"
	case FatalConfiguration:
		return "FatalConfiguration"
	case StateDivergence:
		return "StateDivergence"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by bridge coordinator
// components. Every error crossing a package boundary in internal/bridge
// MUST be an *Error so the scheduler can classify it.
type Error struct {
	Code           string
	Message        string
	Classification Classification
	RetryAfter     *time.Duration
	Cause          error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Stable error codes referenced by the bridge contract protocol and tests.
const (
	CodeRPCTimeout         = "ERR_RPC_TIMEOUT"
	CodeRPCUnavailable     = "ERR_RPC_UNAVAILABLE"
	CodeSignerUnavailable  = "ERR_SIGNER_UNAVAILABLE"
	CodeLedgerTransient    = "ERR_LEDGER_TRANSIENT"
	CodeInsufficientConf   = "ERR_INSUFFICIENT_CONFIRMATIONS"
	CodePendingUTXO        = "ERR_PENDING_UTXO"
	CodeUsedNonce          = "ERR_USED_NONCE"
	CodeZeroRecipient      = "ERR_ZERO_RECIPIENT"
	CodeZeroAmount         = "ERR_ZERO_AMOUNT"
	CodeTokensNotBridged   = "ERR_TOKENS_NOT_BRIDGED"
	CodeWrongChainID       = "ERR_UNEXPECTED_RECIPIENT_CHAIN_ID"
	CodeInvalidSignature   = "ERR_INVALID_SIGNATURE"
	CodeMinterMismatch     = "ERR_MINTER_MISMATCH"
	CodeBridgePaused       = "ERR_BRIDGE_PAUSED"
	CodeUpgradeNotAllowed  = "ERR_UPGRADE_NOT_ALLOWED"
	CodeNonceDivergence    = "ERR_NONCE_DIVERGENCE"
	CodeInvalidPath        = "ERR_INVALID_DERIVATION_PATH"
	CodeTxNotFound         = "ERR_TX_NOT_FOUND"
	CodeInvalidOrderLength = "ERR_INVALID_ORDER_LENGTH"
	CodeMalformedEvent     = "ERR_MALFORMED_EVENT"
	CodeUnknownChainKind   = "ERR_UNKNOWN_CHAIN_KIND"
)

func New(code, message string, classification Classification, cause error) *Error {
	return &Error{Code: code, Message: message, Classification: classification, Cause: cause}
}

func Transientf(code, message string, retryAfter *time.Duration, cause error) *Error {
	return &Error{Code: code, Message: message, Classification: Transient, RetryAfter: retryAfter, Cause: cause}
}

func Deterministic(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Classification: DeterministicRejection, Cause: cause}
}

func Fatal(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Classification: FatalConfiguration, Cause: cause}
}

func Divergence(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Classification: StateDivergence, Cause: cause}
}

func Pending(code, message string) *Error {
	return &Error{Code: code, Message: message, Classification: ConfirmationPending}
}

// ClassificationOf extracts the Classification of err, defaulting to
// Transient for unclassified errors so unknown failures are retried
// rather than silently dropped.
func ClassificationOf(err error) Classification {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Classification
	}
	return Transient
}

func Is(err error, classification Classification) bool {
	return ClassificationOf(err) == classification
}
