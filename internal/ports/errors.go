package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// ErrTransientNetwork marks failures worth retrying with bounded backoff.
	// Surfaced as a cycle-level warning after retries are exhausted; the
	// cycle continues for other symbols.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrInvalidResponse marks a malformed exchange response. Never retried:
	// the exchange-side state is ambiguous and a repeat is not idempotent.
	ErrInvalidResponse = errors.New("invalid exchange response")
	// ErrInvalidContract marks missing or invalid contract metadata
	// (non-finite or non-positive multiplier). The registry falls back to
	// the static default table and continues.
	ErrInvalidContract = errors.New("invalid contract metadata")
	// ErrInconsistentState marks a reconciliation mismatch between local and
	// exchange-reported positions. Auto-corrected to the exchange values.
	ErrInconsistentState = errors.New("inconsistent position state")
	// ErrInsufficientStopDistance rejects an entry whose volatility-derived
	// stop distance is below the strategy minimum. The candidate trade is
	// skipped, not retried.
	ErrInsufficientStopDistance = errors.New("stop distance below strategy minimum")
	// ErrFatalConfig aborts startup (missing credentials, malformed
	// threshold ordering). Nothing else runs.
	ErrFatalConfig = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
