package ledger

import "errors"

// Failures reported by ledger operations. Callers classify them with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrNoSuchHolding        = errors.New("no such holding")
	ErrNotFound             = errors.New("not found")
	ErrAuthorization        = errors.New("not authorized")

	// ErrTimeout is retryable: the operation gave up before touching any state.
	ErrTimeout = errors.New("ledger operation timed out")
)

// IsRejection reports whether err is a business or validation rejection
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInvalidAmount, ErrInsufficientFunds, ErrInsufficientHoldings,
		ErrNoSuchHolding, ErrNotFound, ErrAuthorization,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
