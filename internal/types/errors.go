// internal/types/errors.go
package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrorKind classifies a rejection so callers can decide how to react.
type ErrorKind string

const (
	// KindValidation means the caller supplied a structurally invalid input.
	KindValidation ErrorKind = "validation"
	// KindState means the operation is not permitted in the current state.
	KindState ErrorKind = "state"
	// KindEconomic means the trade or release cannot be honored at current market state.
	KindEconomic ErrorKind = "economic"
	// KindAuthorization means the caller lacks the required role.
	KindAuthorization ErrorKind = "authorization"
	// KindInternal covers arithmetic faults and collaborator failures.
	KindInternal ErrorKind = "internal"
)

// Validation errors.
var (
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidParameters          = errors.New("invalid parameters")
	ErrInvalidBeneficiary         = errors.New("invalid beneficiary")
	ErrInvalidPrice               = errors.New("invalid price")
	ErrInvalidTotalSupply         = errors.New("invalid total supply")
	ErrInvalidGraduationThreshold = errors.New("invalid graduation threshold")
)

// State errors.
var (
	ErrAlreadyGraduated   = errors.New("sale already graduated")
	ErrSellDisabled       = errors.New("selling is disabled")
	ErrPaused             = errors.New("enforced pause")
	ErrNotPaused          = errors.New("expected pause")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrReentrantCall      = errors.New("reentrant call")
)

// Economic errors.
var (
	ErrSlippageExceeded     = errors.New("slippage exceeded")
	ErrSupplyExceeded       = errors.New("supply exceeded")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNoTokensToRelease    = errors.New("no tokens to release")
	ErrExceedsExcessBalance = errors.New("exceeds excess balance")
)

// Authorization errors.
var ErrUnauthorized = errors.New("unauthorized")

// Internal errors.
var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

var kinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindValidation, []error{ErrInvalidAmount, ErrInvalidParameters, ErrInvalidBeneficiary,
		ErrInvalidPrice, ErrInvalidTotalSupply, ErrInvalidGraduationThreshold}},
	{KindState, []error{ErrAlreadyGraduated, ErrSellDisabled, ErrPaused, ErrNotPaused,
		ErrNotInitialized, ErrAlreadyInitialized, ErrReentrantCall}},
	{KindEconomic, []error{ErrSlippageExceeded, ErrSupplyExceeded, ErrInsufficientBalance,
		ErrNoTokensToRelease, ErrExceedsExcessBalance}},
	{KindAuthorization, []error{ErrUnauthorized}},
}

// KindOf reports the kind of err. Errors outside the taxonomy, including
// collaborator failures, are KindInternal. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// SlippageError carries the amounts of a trade rejected for slippage.
type SlippageError struct {
	Expected *uint256.Int
	Minimum  *uint256.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage exceeded: output %s is below minimum %s", e.Expected.Dec(), e.Minimum.Dec())
}

func (e *SlippageError) Unwrap() error {
	return ErrSlippageExceeded
}

// IsSlippageError reports whether err is a slippage rejection.
func IsSlippageError(err error) bool {
	var se *SlippageError
	return errors.As(err, &se)
}
