package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by stores on unique-key conflicts.
var ErrDuplicate = errors.New("already exists")

// TransportError is a network or timeout failure talking to the provider.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamStatusError is a non-200 answer from the provider.
type UpstreamStatusError struct {
	Endpoint string
	Status   int
	Body     string // truncated preview
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider %s returned %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("provider %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

// ShapingError means the provider payload did not have the expected shape.
type ShapingError struct {
	What string
	Err  error
}

func (e *ShapingError) Error() string {
	if e.Err == nil {
		return "unexpected payload shape: " + e.What
	}
	return fmt.Sprintf("unexpected payload shape: %s: %v", e.What, e.Err)
}

func (e *ShapingError) Unwrap() error { return e.Err }

// ValidationError is a bad client-supplied parameter.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// FetchError is what the cached fetch path reports to its callers. The cause
// is one of TransportError, UpstreamStatusError or ShapingError.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err carries a FetchError anywhere in its chain.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
