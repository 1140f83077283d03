package contract

import "github.com/btfbridge/coordinator/internal/bridge/chainerr"

var (
	errPaused                = chainerr.Deterministic(chainerr.CodeBridgePaused, "bridge is paused", nil)
	errMinterMismatch        = chainerr.Fatal(chainerr.CodeMinterMismatch, "batch signer does not match stored minter", nil)
	errNotController         = chainerr.Fatal("ERR_NOT_CONTROLLER", "caller is not a controller", nil)
	errUpgradeNotAllowed     = chainerr.Fatal(chainerr.CodeUpgradeNotAllowed, "implementation codehash not allow-listed", nil)
	errAlreadyMapped         = chainerr.Deterministic("ERR_PAIR_ALREADY_MAPPED", "base token id or wrapped address already registered", nil)
	errTokensNotBridged      = chainerr.Deterministic(chainerr.CodeTokensNotBridged, "token not registered for this side", nil)
	errInsufficientBalance   = chainerr.Deterministic("ERR_INSUFFICIENT_BALANCE", "burn amount exceeds balance", nil)
	errInsufficientAllowance = chainerr.Deterministic("ERR_INSUFFICIENT_ALLOWANCE", "burn amount exceeds allowance", nil)
)
