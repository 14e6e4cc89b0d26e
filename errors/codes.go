package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled. Everything in
// this module is a local, recoverable condition; there is no fatal
// category.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: consumer read timeouts, a momentarily full queue.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid subscription config, unknown role, bad glyph sequence.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or invariant violations.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

// Error codes for synchronization and bus failures.
const (
	// Bus / subscription errors
	ErrCodeSubscriptionClosed  ErrorCode = "SUBSCRIPTION_CLOSED"  // Read or write on a closed subscription
	ErrCodeSubscriptionFull    ErrorCode = "SUBSCRIPTION_FULL"    // Event discarded per policy (informational)
	ErrCodeInvalidSubscription ErrorCode = "INVALID_SUBSCRIPTION" // Capacity <= 0 or unknown policy

	// Sync session errors
	ErrCodeUnknownRole       ErrorCode = "UNKNOWN_ROLE"        // Role outside the fixed tri-node set
	ErrCodeResetNotConfirmed ErrorCode = "RESET_NOT_CONFIRMED" // Reinitialize without a valid token

	// Protocol errors
	ErrCodeProtocol ErrorCode = "PROTOCOL" // Invalid glyph sequence

	// Generic
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"  // API key missing or wrong
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeSubscriptionFull:
		return CategoryTransient
	case ErrCodeSubscriptionClosed, ErrCodeInvalidSubscription, ErrCodeUnknownRole,
		ErrCodeResetNotConfirmed, ErrCodeProtocol, ErrCodeInvalidInput, ErrCodeUnauthorized:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeSubscriptionClosed:  "subscription is closed",
	ErrCodeSubscriptionFull:    "event discarded by overflow policy",
	ErrCodeInvalidSubscription: "invalid subscription configuration",
	ErrCodeUnknownRole:         "role is not part of the tri-node set",
	ErrCodeResetNotConfirmed:   "reset requires a confirmation token",
	ErrCodeProtocol:            "invalid glyph sequence",
	ErrCodeTimeout:             "operation timed out",
	ErrCodeInvalidInput:        "invalid input provided",
	ErrCodeUnauthorized:        "authentication required",
	ErrCodeInternal:            "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
