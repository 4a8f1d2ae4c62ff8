// Package errors defines the failure taxonomy of the event pipeline and the
// retry policy applied to deliveries.
//
// The package implements a layered error handling approach:
//   - Categorization: classify errors as transient (retry may help) or permanent
//   - Retry: repeat transient failures with exponential backoff
//
// Nothing in this package ever reaches the code that tracked an event; the
// dispatch engine logs and drops terminal failures.
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: refused connections, timeouts, resets.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: non-2xx responses, encoding failures, bad configuration.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Categorize determines how an error should be handled.
//
// Only transport failures are transient. An HTTP status response means the
// exchange completed, so it is permanent regardless of the code.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return CategoryTransient
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// Kind returns a short stable label for err, used in logs, metrics and
// dead-letter records.
func Kind(err error) string {
	var (
		configErr    *ConfigurationError
		encodingErr  *EncodingError
		transportErr *TransportError
		httpErr      *HTTPError
		urlErr       *InvalidURLError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &httpErr):
		return "http_status"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &encodingErr):
		return "encoding"
	case errors.As(err, &urlErr):
		return "invalid_url"
	case errors.As(err, &configErr), errors.Is(err, ErrNotInitialized):
		return "configuration"
	default:
		return "unknown"
	}
}
