package pagination

import (
	"errors"
	"fmt"
)

// Request validation errors.
var (
	// ErrInvalidKey is returned for negative page keys and keys above MaxKey.
	ErrInvalidKey = errors.New("invalid page key")

	// ErrInvalidSize is returned when the load size is not positive.
	ErrInvalidSize = errors.New("invalid load size")
)

// FetchError reports that the Fetcher failed to return the record batch.
type FetchError struct {
	Limit  int
	Offset int
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch gallery page (limit %d, offset %d): %v", e.Limit, e.Offset, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError reports that one record of the batch could not be decoded.
// A single DecodeError fails the whole page.
type DecodeError struct {
	ID    int64
	Index int
	Err   error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode gallery item %d (position %d): %v", e.ID, e.Index, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
