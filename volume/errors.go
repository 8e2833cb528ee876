package volume

import "fmt"

// DataUnavailableError indicates the raw source could not supply the
// requested extent (missing blob, unreachable store, timeout). Retryable.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DataUnavailableError struct {
	Key   string
	cause error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("raw data unavailable: %s", e.Key)
}

func (e *DataUnavailableError) Unwrap() error { return e.cause }

// FormatError indicates malformed raw data (shape mismatch, bad framing).
// Fatal, not retryable.
type FormatError struct {
	Key    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed raw data %s: %s", e.Key, e.Reason)
}
