// SPDX-License-Identifier: MIT

package xnat

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("xnat: resource not found")
	ErrForbidden           = errors.New("xnat: access denied")
	ErrUpstreamUnavailable = errors.New("xnat: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("xnat: archive internal error (5xx)")
	ErrBadResponse         = errors.New("xnat: invalid response format or malformed data")
	ErrTimeout             = errors.New("xnat: request timed out")

	// Query result errors.
	ErrNoResults       = errors.New("xnat: query returned no results")
	ErrAmbiguousResult = errors.New("xnat: query returned multiple results")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("xnat: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
