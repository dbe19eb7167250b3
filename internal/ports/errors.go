package ports

import "errors"

// Standard application-level errors.
// Adapters and services wrap underlying failures with these so callers can use errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Trading Errors
	ErrUnsupportedInstrument = errors.New("instrument is not supported")
	ErrQuoteUnavailable      = errors.New("no quote available for instrument")
	ErrInsufficientBalance   = errors.New("insufficient balance for margin and commission")
	ErrInvalidLimitPrice     = errors.New("pending order price is on the wrong side of the market")
	ErrOrderNotFound         = errors.New("pending order not found")
	ErrTradeNotOpen          = errors.New("trade is not open")

	// Venue Errors
	ErrVenueExecutionFailed = errors.New("venue execution failed")
	ErrVenueUnavailable     = errors.New("venue is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("venue rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")

	// Database Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
