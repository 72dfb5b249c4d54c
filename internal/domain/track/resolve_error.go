package track

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// FailureKind classifies why a query could not be resolved to a
// playable track.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureUnavailable
	FailureAgeRestricted
	FailureCopyrightBlocked
	FailureNoPlayableFormat
	FailureTooLong
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureUnavailable:
		return "unavailable"
	case FailureAgeRestricted:
		return "age_restricted"
	case FailureCopyrightBlocked:
		return "copyright_blocked"
	case FailureNoPlayableFormat:
		return "no_playable_format"
	case FailureTooLong:
		return "too_long"
	default:
		return "unknown"
	}
}

// ResolveError is returned by resolvers when a query cannot be turned
// into a playable track.
type ResolveError struct {
	Kind     FailureKind
	LimitSec int   // Set for FailureTooLong: the configured ceiling
	Cause    error // Underlying extractor error, may be nil
}

func (e *ResolveError) Error() string {
	if e.Kind == FailureTooLong {
		return fmt.Sprintf("track resolution failed: %s (limit %s)", e.Kind, FormatDuration(e.LimitSec))
	}
	if e.Cause != nil {
		return fmt.Sprintf("track resolution failed: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("track resolution failed: %s", e.Kind)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// ResolveFailure extracts the ResolveError from an error chain.
func ResolveFailure(err error) (*ResolveError, bool) {
	var re *ResolveError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
