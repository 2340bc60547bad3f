package reindex

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a record that vanished between resolution and
// processing. Per-record, never fatal to the job.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects a malformed job request before a job is
// created. Surfaced synchronously to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid reindex request: " + e.Reason
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SelectorError marks a resolver-level failure (store unreachable
// mid-pagination). Fatal: the job transitions to failed.
type SelectorError struct {
	Err error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector resolution failed: %v", e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// IndexError marks a read or write failure against the search index,
// including a per-record deadline expiring. Per-record, non-fatal, but
// it feeds the circuit-breaker ratio.
type IndexError struct {
	RecordID string
	Err      error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error for %s: %v", e.RecordID, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// IsIndexError reports whether err is an IndexError.
func IsIndexError(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie)
}
