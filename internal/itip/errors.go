package itip

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrorKind classifies an invitation-processing failure. Kinds double as
// metric labels, so values stay lowercase and stable.
type ErrorKind string

const (
	KindMissingAttendee ErrorKind = "missing_attendee"
	KindInvalid         ErrorKind = "invitation_invalid"
	KindUnsupported     ErrorKind = "invitation_unsupported"
	KindParsing         ErrorKind = "parsing_error"
	KindDecryption      ErrorKind = "decryption_error"
	KindFetching        ErrorKind = "fetching_error"
	KindUpdating        ErrorKind = "updating_error"
	KindCancellation    ErrorKind = "cancellation_error"
	KindEventCreation   ErrorKind = "event_creation_error"
	KindEventUpdate     ErrorKind = "event_update_error"
	KindExternal        ErrorKind = "external_error"
)

// Retryable reports whether an explicit user retry may succeed. Validation
// failures are terminal: the ICS content itself is the problem.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindDecryption, KindFetching, KindUpdating, KindCancellation,
		KindEventCreation, KindEventUpdate:
		return true
	}
	return false
}

// Error is the tagged invitation error. Hash identifies the source ICS for
// telemetry without exposing its content; Err carries the wrapped external
// cause, if any.
type Error struct {
	Kind ErrorKind
	Hash string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a terminal error of the given kind.
func NewError(kind ErrorKind, hash string) *Error {
	return &Error{Kind: kind, Hash: hash}
}

// WrapError attaches an external cause to an error kind. A nil cause yields
// the same result as NewError.
func WrapError(kind ErrorKind, hash string, err error) *Error {
	return &Error{Kind: kind, Hash: hash, Err: err}
}

// KindOf extracts the ErrorKind from err's chain, defaulting to
// KindExternal for anything unanticipated.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindExternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == kind
}

// HashICS fingerprints raw ICS bytes for telemetry.
func HashICS(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
