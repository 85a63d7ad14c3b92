package lending

import (
	"errors"
	"fmt"
)

// Kind groups failure reasons by the class of rule they enforce.
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindValidation
	KindState
	KindArithmetic
	KindCustody
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	case KindCustody:
		return "custody"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a typed failure reason surfaced verbatim to callers. Sentinels are
// compared by identity, so wrap them with %w to attach detail.
type Error struct {
	Code    uint32
	Name    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return "lending: " + e.Message }

func newError(code uint32, name string, kind Kind, msg string) *Error {
	return &Error{Code: code, Name: name, Kind: kind, Message: msg}
}

var (
	ErrUnauthorized                = newError(6000, "Unauthorized", KindAuthorization, "caller is not authorized")
	ErrFeeTooHigh                  = newError(6001, "FeeTooHigh", KindValidation, "basis points must be <= 10000")
	ErrInvalidFeeRecipient         = newError(6002, "InvalidFeeRecipient", KindValidation, "invalid fee recipient")
	ErrOfferNotActive              = newError(6003, "OfferNotActive", KindState, "offer is not active")
	ErrLoanNotActive               = newError(6004, "LoanNotActive", KindState, "loan is not active")
	ErrInsufficientFunds           = newError(6005, "InsufficientFunds", KindCustody, "insufficient funds")
	ErrMarketNotActive             = newError(6006, "MarketNotActive", KindState, "asset pair market is not active")
	ErrInvalidAssetPair            = newError(6007, "InvalidAssetPair", KindValidation, "invalid asset pair")
	ErrInvalidLTV                  = newError(6008, "InvalidLTV", KindValidation, "invalid LTV ratio")
	ErrCannotLiquidateHealthyLoan  = newError(6012, "CannotLiquidateHealthyLoan", KindState, "cannot liquidate: loan is healthy")
	ErrInvalidCollateralAmount     = newError(6014, "InvalidCollateralAmount", KindValidation, "invalid collateral amount")
	ErrInterestCalculationOverflow = newError(6015, "InterestCalculationOverflow", KindArithmetic, "arithmetic overflow")
	ErrInvalidLoanAmount           = newError(6016, "InvalidLoanAmount", KindValidation, "invalid loan amount")
	ErrInvalidInterestRate         = newError(6017, "InvalidInterestRate", KindValidation, "invalid interest rate")

	ErrAlreadyInitialized = newError(6100, "AlreadyInitialized", KindState, "record already exists")
	ErrNotFound           = newError(6101, "NotFound", KindState, "record not found")
	ErrInvariantViolation = newError(6102, "InvariantViolation", KindInternal, "custody invariant violated")
	ErrNilState           = newError(6103, "StateNotConfigured", KindInternal, "engine state not configured")
)

// AsError extracts the typed failure reason from err.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
