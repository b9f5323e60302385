package errors

// ErrorCategory classifies errors by how the caller should react.
type ErrorCategory string

const (
	// CategoryInput indicates the request itself cannot be satisfied.
	// These are rendered as descriptive text, never as protocol faults.
	CategoryInput ErrorCategory = "input"

	// CategoryTransient indicates a temporary failure where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal indicates a bug or untrustworthy supervisor state.
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

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Unknown process id or record
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed tool arguments
	ErrCodeIO           ErrorCode = "IO"            // Task source could not be read
	ErrCodeSpawnFailed  ErrorCode = "SPAWN_FAILED"  // OS refused to create the process
	ErrCodeSignal       ErrorCode = "SIGNAL_FAILED" // Termination request could not be delivered
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Caller went away
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Deadline exceeded
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Bus or exporter unreachable
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeIO, ErrCodeSpawnFailed, ErrCodeCanceled:
		return CategoryInput
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeSignal:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeNotFound:     "not found",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeIO:           "read failed",
	ErrCodeSpawnFailed:  "process could not be started",
	ErrCodeSignal:       "signal could not be delivered",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "service temporarily unavailable",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
