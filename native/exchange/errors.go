package exchange

import (
	"errors"
	"fmt"

	"nftswap/core/types"
)

var (
	ErrNotOpen                  = errors.New("exchange: trading not open")
	ErrWrongCaller              = errors.New("exchange: caller is not the offer trader")
	ErrNotEnoughFunds           = errors.New("exchange: attached value below requirement")
	ErrOfferInvalidParameters   = errors.New("exchange: offer invalid parameters")
	ErrOffersDoNotMatch         = errors.New("exchange: offers do not match")
	ErrAlreadyCancelledOrFilled = errors.New("exchange: offer already cancelled or filled")
	ErrSelfTradeRejected        = errors.New("exchange: maker and taker are the same trader")
	ErrWrongSide                = errors.New("exchange: offer side not valid for operation")
	ErrTransferFailed           = errors.New("exchange: asset transfer failed")
	ErrOfferNotFound            = errors.New("exchange: offer not found")
	ErrFeePoolExhausted         = errors.New("exchange: partner shares exceed fee pool")

	errNilState    = errors.New("exchange: state not configured")
	errNilExecutor = errors.New("exchange: asset executor not configured")
	errNilPolicy   = errors.New("exchange: policy gate not configured")
)

// InvalidParametersError reports a validation failure together with the leg
// of the trade that failed. It matches ErrOfferInvalidParameters with
// errors.Is.
type InvalidParametersError struct {
	Role   types.Role
	Reason string
}

func (e *InvalidParametersError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s (%s offer)", ErrOfferInvalidParameters, e.Role)
	}
	return fmt.Sprintf("%s (%s offer): %s", ErrOfferInvalidParameters, e.Role, e.Reason)
}

// Is reports whether target is the invalid-parameters sentinel.
func (e *InvalidParametersError) Is(target error) bool {
	return target == ErrOfferInvalidParameters
}

// RoleOf extracts the failing leg from an invalid-parameters error.
func RoleOf(err error) (types.Role, bool) {
	var invalid *InvalidParametersError
	if errors.As(err, &invalid) {
		return invalid.Role, true
	}
	return 0, false
}

func invalidParams(role types.Role, reason string) error {
	return &InvalidParametersError{Role: role, Reason: reason}
}

func transferFailed(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, what, err)
}

// Code returns the stable machine-readable identifier for an engine error, or
// "internal" for anything else.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotOpen):
		return "not_open"
	case errors.Is(err, ErrWrongCaller):
		return "wrong_caller"
	case errors.Is(err, ErrNotEnoughFunds):
		return "not_enough_funds"
	case errors.Is(err, ErrOfferInvalidParameters):
		return "offer_invalid_parameters"
	case errors.Is(err, ErrOffersDoNotMatch):
		return "offers_do_not_match"
	case errors.Is(err, ErrAlreadyCancelledOrFilled):
		return "already_cancelled_or_filled"
	case errors.Is(err, ErrSelfTradeRejected):
		return "self_trade_rejected"
	case errors.Is(err, ErrWrongSide):
		return "wrong_side"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrOfferNotFound):
		return "offer_not_found"
	case errors.Is(err, ErrFeePoolExhausted):
		return "fee_pool_exhausted"
	default:
		return "internal"
	}
}
