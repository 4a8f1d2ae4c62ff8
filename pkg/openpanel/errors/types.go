package errors

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is reported when events are sent before Initialize.
var ErrNotInitialized = errors.New("openpanel not initialized, call Initialize first")

// ConfigurationError indicates invalid or missing client configuration.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// EncodingError indicates an event could not be serialized.
type EncodingError struct {
	EventType string
	Err       error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	if e.EventType != "" {
		return fmt.Sprintf("encode %s event: %v", e.EventType, e.Err)
	}
	return fmt.Sprintf("encode event: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// TransportError indicates the network exchange did not complete:
// connection refused, DNS failure, timeout, reset.
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure at %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError represents a completed exchange with a non-2xx status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// InvalidURLError indicates the configured base URL plus path does not form
// a usable absolute URL.
type InvalidURLError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid URL %q: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("invalid URL %q", e.URL)
}

// Unwrap returns the underlying error.
func (e *InvalidURLError) Unwrap() error {
	return e.Err
}
