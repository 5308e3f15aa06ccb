package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"commodrails/internal/escrow"
)

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Error: code, Message: msg})
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeProblem(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", err.Error())
		return
	}
	writeProblem(w, http.StatusBadRequest, "InvalidBody", "unreadable request body")
}

// statusFor maps an operation failure to an HTTP status and error code.
func statusFor(err error) (int, string) {
	code := escrow.CodeOf(err)
	switch code {
	case "":
		return http.StatusServiceUnavailable, "Unavailable"
	case escrow.ErrContractNotFound.Code:
		return http.StatusNotFound, code
	case escrow.ErrOnlyBuyerCanFinalize.Code:
		return http.StatusForbidden, code
	case escrow.ErrInvalidBlockNumber.Code,
		escrow.ErrInsufficientBalance.Code,
		escrow.ErrInsufficientAllowance.Code,
		escrow.ErrArithmeticOverflow.Code:
		return http.StatusUnprocessableEntity, code
	case escrow.ErrContractAlreadyBought.Code,
		escrow.ErrContractAlreadyFinalized.Code,
		escrow.ErrContractNotPurchased.Code,
		escrow.ErrCannotFinalizeBeforeFinalityBlock.Code:
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, code
	}
}
