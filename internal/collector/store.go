package collector

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/randalmurphal/openpanel/pkg/openpanel"
)

// Received is one accepted /track request.
type Received struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Payload    json.RawMessage   `json:"payload"`
	Headers    map[string]string `json:"headers"`
	ReceivedAt time.Time         `json:"received_at"`

	// Event is the decoded envelope.
	Event openpanel.Event `json:"-"`
}

// Fault makes the next Count /track requests fail.
type Fault struct {
	// StatusCode is returned instead of accepting the event.
	StatusCode int `json:"status_code,omitempty"`

	// Body replaces the default error body.
	Body string `json:"body,omitempty"`

	// Disconnect closes the connection without a response, which clients
	// see as a transport failure. Takes precedence over StatusCode.
	Disconnect bool `json:"disconnect,omitempty"`

	// Count is how many requests the fault applies to. Default: 1
	Count int `json:"count,omitempty"`
}

// Store holds received events and pending faults in memory.
type Store struct {
	mu     sync.RWMutex
	events []Received
	faults []Fault
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends an accepted event.
func (s *Store) Add(r Received) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, r)
}

// Events returns received events in arrival order, optionally only those of
// the given type.
func (s *Store) Events(eventType string) []Received {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Received, 0, len(s.events))
	for _, e := range s.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of received events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// InjectFault queues f behind any faults already pending.
func (s *Store) InjectFault(f Fault) {
	if f.Count <= 0 {
		f.Count = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// nextFault consumes one use of the oldest pending fault.
func (s *Store) nextFault() (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.faults) == 0 {
		return Fault{}, false
	}
	f := s.faults[0]
	s.faults[0].Count--
	if s.faults[0].Count <= 0 {
		s.faults = s.faults[1:]
	}
	return f, true
}

// Reset forgets all events and faults.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.faults = nil
}
