package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"nftswap/native/bank"
	"nftswap/native/exchange"
	"nftswap/native/policy"
)

var (
	errBadRequest    = errors.New("bad request")
	errNonceMismatch = errors.New("transaction nonce mismatch")
)

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Role    string `json:"role,omitempty"`
}

// errorStatus maps an error onto an HTTP status and stable error code. Engine
// errors take precedence since they may wrap ledger errors.
func errorStatus(err error) (int, string) {
	if err == nil {
		return http.StatusOK, "ok"
	}
	switch code := exchange.Code(err); code {
	case "wrong_caller":
		return http.StatusForbidden, code
	case "not_enough_funds":
		return http.StatusPaymentRequired, code
	case "offer_not_found":
		return http.StatusNotFound, code
	case "offer_invalid_parameters", "offers_do_not_match", "self_trade_rejected", "wrong_side":
		return http.StatusUnprocessableEntity, code
	case "not_open", "already_cancelled_or_filled", "transfer_failed", "fee_pool_exhausted":
		return http.StatusConflict, code
	}
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, policy.ErrZeroAddress),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrInvalidToken),
		errors.Is(err, bank.ErrZeroRecipient),
		errors.Is(err, bank.ErrTokenExists):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errNonceMismatch):
		return http.StatusConflict, "nonce_mismatch"
	case errors.Is(err, policy.ErrPartnerCapacity):
		return http.StatusConflict, "fee_pool_exhausted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	body := errorBody{Error: code, Message: err.Error()}
	if role, ok := exchange.RoleOf(err); ok {
		body.Role = role.String()
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
		body.Message = "internal error"
	}
	s.writeJSON(w, status, body)
}
