package ingest

import (
	"fmt"
)

// ErrorKind tags a fetch failure so the retry policy can classify it without
// string matching. String matching remains the fallback for errors raised by
// opaque third-party clients.
type ErrorKind string

// Error kinds produced by the fetch layer.
const (
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindNetwork      ErrorKind = "network"
	ErrKindHTTPStatus   ErrorKind = "http_status"
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindRobotsDenied ErrorKind = "robots_denied"
)

// FetchError is the tagged error type surfaced by Fetcher implementations.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch {
	case e.Kind == ErrKindHTTPStatus:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

// Unwrap exposes the wrapped cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTimeoutError wraps a deadline overrun.
func NewTimeoutError(url string, err error) *FetchError {
	return &FetchError{Kind: ErrKindTimeout, URL: url, Err: err}
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(url string, err error) *FetchError {
	return &FetchError{Kind: ErrKindNetwork, URL: url, Err: err}
}

// NewHTTPStatusError records a non-success HTTP response.
func NewHTTPStatusError(url string, status int) *FetchError {
	return &FetchError{Kind: ErrKindHTTPStatus, URL: url, StatusCode: status}
}

// NewInvalidInputError marks a request that can never succeed as written.
func NewInvalidInputError(url string, err error) *FetchError {
	return &FetchError{Kind: ErrKindInvalidInput, URL: url, Err: err}
}

// NewRobotsDeniedError marks a URL refused by robots policy.
func NewRobotsDeniedError(url string) *FetchError {
	return &FetchError{Kind: ErrKindRobotsDenied, URL: url}
}
