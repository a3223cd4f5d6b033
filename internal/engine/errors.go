// Package engine drives the balance-update state machine: UTXO discovery,
// dedup, collateral computation and mint orchestration per account.
package engine

import (
	"errors"
	"fmt"

	"boxmint/internal/chain"
	"boxmint/internal/collateral"
	"boxmint/internal/guard"
	"boxmint/internal/ledger"
)

// Policy rejection codes carried by GenericError.
const (
	CodeIdentityMismatch   = 4001
	CodeBelowMinimum       = 6001
	CodeNothingToRedeem    = 6002
	CodePartialRestoration = 6003
	CodeSwapBelowMinimum   = 7001
	CodeSwapRateShortfall  = 7002
)

// TemporarilyUnavailableError signals a transient external failure. Safe to
// retry later.
type TemporarilyUnavailableError struct {
	Reason string
}

func (e *TemporarilyUnavailableError) Error() string {
	return fmt.Sprintf("temporarily unavailable: %s", e.Reason)
}

// AlreadyProcessingError signals guard contention for the account. Safe to
// retry once the in-flight operation settles.
type AlreadyProcessingError struct{}

func (e *AlreadyProcessingError) Error() string {
	return "an operation for this account is already in flight"
}

// NoNewUtxosError terminates a balance update that found no mintable
// deposits. It is informational: PendingUtxos reports what is still
// confirming and how far along it is.
type NoNewUtxosError struct {
	CurrentConfirmations  *uint32             `json:"current_confirmations"`
	RequiredConfirmations uint32              `json:"required_confirmations"`
	PendingUtxos          []chain.PendingUtxo `json:"pending_utxos"`
}

func (e *NoNewUtxosError) Error() string {
	if e.CurrentConfirmations == nil {
		return "no new deposits"
	}
	return fmt.Sprintf("no new deposits: best pending deposit has %d of %d confirmations",
		*e.CurrentConfirmations, e.RequiredConfirmations)
}

// GenericError is a policy or validation rejection. Not retryable without
// changing the input.
type GenericError struct {
	Code    uint64 `json:"code"`
	Message string `json:"message"`
}

func (e *GenericError) Error() string {
	return fmt.Sprintf("rejected (code %d): %s", e.Code, e.Message)
}

// SystemError is an internal invariant violation. Always a bug signal.
type SystemError struct {
	Method string
	Reason string
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Method, e.Reason)
}

// fromGuardErr maps guard admission failures. Capacity exhaustion is
// transient and distinct from same-account contention.
func fromGuardErr(err error) error {
	switch {
	case errors.Is(err, guard.ErrAlreadyProcessing):
		return &AlreadyProcessingError{}
	case errors.Is(err, guard.ErrTooManyConcurrent):
		return &TemporarilyUnavailableError{Reason: "too many concurrent requests"}
	default:
		return &SystemError{Method: "guard.Acquire", Reason: err.Error()}
	}
}

// fromCallErr passes collaborator call failures through and wraps anything
// else at the named call site.
func fromCallErr(method string, err error) error {
	var ce *chain.CallError
	if errors.As(err, &ce) {
		return ce
	}
	return chain.NewCallError(method, chain.ReasonServiceError, err.Error())
}

// fromTransferErr maps orchestrator failures: policy minimums become
// GenericError, everything else is a CallError naming the failed leg.
func fromTransferErr(method string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrBelowTransferMinimum):
		return &GenericError{Code: CodeBelowMinimum, Message: err.Error()}
	case errors.Is(err, ledger.ErrSwapBelowMinimumSats):
		return &GenericError{Code: CodeSwapBelowMinimum, Message: err.Error()}
	case errors.Is(err, ledger.ErrSwapRateShortfall):
		return &GenericError{Code: CodeSwapRateShortfall, Message: err.Error()}
	case errors.Is(err, collateral.ErrPartialRestoration):
		return &GenericError{Code: CodePartialRestoration, Message: err.Error()}
	default:
		return fromCallErr(method, err)
	}
}

// fromRateErr maps rate oracle failures; rate providers fail often enough
// that their errors are always treated as transient.
func fromRateErr(err error) error {
	return &TemporarilyUnavailableError{Reason: err.Error()}
}
