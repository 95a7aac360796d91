// internal/apierrors/errors.go
package apierrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported by the GitHub fetch collaborator.
// The reconciliation engine special-cases KindUnauthorized; every
// other kind takes the generic offline-fallback path.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindNotFound
	KindRateLimited
	KindBadFormat
	KindNetwork
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindBadFormat:
		return "bad_format"
	case KindNetwork:
		return "network"
	case KindDecoding:
		return "decoding"
	default:
		return "unknown"
	}
}

// FetchError wraps a lower-level failure with its taxonomy kind.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("github fetch failed: %s", e.Kind)
	}
	return fmt.Sprintf("github fetch failed: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Wrap attaches a kind to err.
func Wrap(kind Kind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// New builds a FetchError from a plain message.
func New(kind Kind, msg string) *FetchError {
	return &FetchError{Kind: kind, Err: errors.New(msg)}
}

// KindOf extracts the taxonomy kind from err, defaulting to KindUnknown
// for anything that did not come out of the fetch collaborator.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var formatErr *InvalidRepoFormatError
	if errors.As(err, &formatErr) {
		return KindBadFormat
	}
	return KindUnknown
}

// InvalidRepoFormatError is returned when a repository identifier is
// not in 'owner/name' format.
type InvalidRepoFormatError struct {
	FullName string
}

func (e *InvalidRepoFormatError) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.FullName)
}
