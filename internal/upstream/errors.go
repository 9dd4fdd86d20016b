// Package upstream defines the error taxonomy shared by every upstream API adapter.
//
// Adapters translate their native failures into an *Error carrying one of the
// Class values below. The retry policy and the paginated collector only ever
// look at the class, never at provider-specific error types.
package upstream

import (
	"errors"
	"fmt"
)

// Class is the coarse classification of an upstream failure
type Class string

const (
	// ClassThrottled means the caller exceeded an upstream rate limit
	ClassThrottled Class = "throttled"

	// ClassNotFound means the requested resource (or its parent) no longer exists
	ClassNotFound Class = "not_found"

	// ClassOther covers every other failure (permissions, bad requests, outages)
	ClassOther Class = "other"
)

var (
	// ErrThrottled matches any upstream error classified as throttled
	ErrThrottled = errors.New("upstream request throttled")

	// ErrNotFound matches any upstream error classified as not found
	ErrNotFound = errors.New("upstream resource not found")
)

// Error is a classified upstream failure
type Error struct {
	Class      Class
	StatusCode int
	Op         string
	Err        error
}

// NewError wraps err with the given classification
func NewError(class Class, statusCode int, op string, err error) *Error {
	return &Error{
		Class:      class,
		StatusCode: statusCode,
		Op:         op,
		Err:        err,
	}
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the class sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrThrottled:
		return e.Class == ClassThrottled
	case ErrNotFound:
		return e.Class == ClassNotFound
	}
	return false
}

// ClassOf returns the classification of err, or ClassOther when err carries none
func ClassOf(err error) Class {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Class
	}
	return ClassOther
}

// IsThrottled reports whether err is a throttling signal
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsNotFound reports whether err is a not-found signal
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FromStatusCode classifies an HTTP status code
func FromStatusCode(statusCode int) Class {
	switch statusCode {
	case 429:
		return ClassThrottled
	case 404:
		return ClassNotFound
	default:
		return ClassOther
	}
}
