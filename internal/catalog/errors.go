package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by id lookups that match no record. A search
	// with no hits is not an error.
	ErrNotFound = errors.New("event not found")

	// ErrInvalidCriteria marks filter or dimension input that cannot be
	// interpreted.
	ErrInvalidCriteria = errors.New("invalid criteria")

	// ErrFetch marks every failure to produce a locale's record set.
	ErrFetch = errors.New("fetch failed")

	// ErrEmptyPayload is the cause of a FetchError when the remote side
	// answered but yielded no usable records.
	ErrEmptyPayload = errors.New("empty payload")
)

// FetchError reports that the record set for Locale could not be produced.
// It matches both ErrFetch and its cause with errors.Is.
type FetchError struct {
	Locale string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch events for locale %q: %v", e.Locale, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCriteria, fmt.Sprintf(format, args...))
}
