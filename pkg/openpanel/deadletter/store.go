// Package deadletter keeps a record of events whose delivery failed
// terminally, for inspection after the fact. Nothing is replayed.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
)

// Store records failed deliveries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record stores an entry. A missing ID or FailedAt is filled in.
	Record(ctx context.Context, e *Entry) error

	// List returns up to limit entries, oldest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Delete removes an entry. Returns nil if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// Entry is one failed delivery.
type Entry struct {
	ID        string
	EventType string

	// Body is the encoded envelope that was being sent.
	Body []byte

	// Kind classifies the failure: http_status, transport, encoding, ...
	Kind       string
	StatusCode int
	Message    string
	Attempts   int
	FailedAt   time.Time
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("dead letter store closed")

// NewEntry describes a failed delivery of body.
func NewEntry(eventType string, body []byte, err error, attempts int) *Entry {
	e := &Entry{
		EventType: eventType,
		Body:      body,
		Kind:      operrors.Kind(err),
		Attempts:  attempts,
	}
	if err != nil {
		e.Message = err.Error()
	}
	var httpErr *operrors.HTTPError
	if errors.As(err, &httpErr) {
		e.StatusCode = httpErr.StatusCode
	}
	return e
}

// prepare fills generated fields.
func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.FailedAt.IsZero() {
		e.FailedAt = time.Now().UTC()
	}
}
