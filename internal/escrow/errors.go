package escrow

import "errors"

// Error is a typed engine failure. Every failure the engine returns wraps
// exactly one of the sentinels below, so callers can match with errors.Is
// or read the stable code with CodeOf.
type Error struct {
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(code, msg string) *Error { return &Error{Code: code, msg: msg} }

var (
	ErrInvalidBlockNumber                = newError("InvalidBlockNumber", "finality block precedes the current block")
	ErrContractNotFound                  = newError("ContractNotFound", "contract not found")
	ErrContractAlreadyBought             = newError("ContractAlreadyBought", "contract already bought")
	ErrContractAlreadyFinalized          = newError("ContractAlreadyFinalized", "contract already finalized")
	ErrContractNotPurchased              = newError("ContractNotPurchased", "contract has not been purchased")
	ErrOnlyBuyerCanFinalize              = newError("OnlyBuyerCanFinalize", "only the buyer can finalize")
	ErrCannotFinalizeBeforeFinalityBlock = newError("CannotFinalizeBeforeFinalityBlock", "cannot finalize before the finality block has passed")
	ErrInsufficientBalance               = newError("InsufficientBalance", "insufficient balance")
	ErrInsufficientAllowance             = newError("InsufficientAllowance", "insufficient allowance")
	ErrArithmeticOverflow                = newError("ArithmeticOverflow", "arithmetic overflow")

	// ErrLedgerInvariant signals that ledger state contradicts the
	// conservation law. It is returned, never raised.
	ErrLedgerInvariant = newError("LedgerInvariant", "ledger invariant violated")
)

// CodeOf returns the code of the engine error wrapped by err, or "" when err
// carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err signals ledger corruption rather than a
// rejected request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLedgerInvariant)
}
