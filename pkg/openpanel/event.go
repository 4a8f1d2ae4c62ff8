package openpanel

import (
	"encoding/json"
	"errors"
	"fmt"

	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
	"github.com/randalmurphal/openpanel/pkg/openpanel/property"
)

// EventType is the wire tag of an event.
type EventType string

// Event types.
const (
	TypeTrack     EventType = "track"
	TypeIdentify  EventType = "identify"
	TypeAlias     EventType = "alias"
	TypeIncrement EventType = "increment"
	TypeDecrement EventType = "decrement"
)

// Event is one of Track, Identify, Alias, Increment or Decrement.
type Event interface {
	Type() EventType
	isEvent()
}

// Track records a named action.
type Track struct {
	Name       string       `json:"name"`
	Properties property.Map `json:"properties,omitempty"`
	ProfileID  string       `json:"profileId,omitempty"`
}

// Identify attaches traits to a profile.
type Identify struct {
	ProfileID  string       `json:"profileId"`
	FirstName  string       `json:"firstName,omitempty"`
	LastName   string       `json:"lastName,omitempty"`
	Email      string       `json:"email,omitempty"`
	Avatar     string       `json:"avatar,omitempty"`
	Properties property.Map `json:"properties,omitempty"`
}

// Alias links a second identifier to a profile.
type Alias struct {
	ProfileID string `json:"profileId"`
	Alias     string `json:"alias"`
}

// Increment adds Value (server default when nil) to a numeric profile property.
type Increment struct {
	ProfileID string `json:"profileId"`
	Property  string `json:"property"`
	Value     *int   `json:"value,omitempty"`
}

// Decrement subtracts Value (server default when nil) from a numeric
// profile property.
type Decrement struct {
	ProfileID string `json:"profileId"`
	Property  string `json:"property"`
	Value     *int   `json:"value,omitempty"`
}

func (Track) Type() EventType     { return TypeTrack }
func (Identify) Type() EventType  { return TypeIdentify }
func (Alias) Type() EventType     { return TypeAlias }
func (Increment) Type() EventType { return TypeIncrement }
func (Decrement) Type() EventType { return TypeDecrement }

func (Track) isEvent()     {}
func (Identify) isEvent()  {}
func (Alias) isEvent()     {}
func (Increment) isEvent() {}
func (Decrement) isEvent() {}

// hasTraits reports whether the identify carries anything beyond the id.
func (i Identify) hasTraits() bool {
	return i.FirstName != "" || i.LastName != "" || i.Email != "" || i.Avatar != "" ||
		len(i.Properties) > 0
}

// ErrUnknownEventType is returned by UnmarshalEvent for an unrecognized tag.
var ErrUnknownEventType = errors.New("unknown event type")

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent encodes e as {"type": ..., "payload": ...}.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, &operrors.EncodingError{Err: errors.New("nil event")}
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, &operrors.EncodingError{EventType: string(e.Type()), Err: err}
	}
	data, err := json.Marshal(envelope{Type: e.Type(), Payload: payload})
	if err != nil {
		return nil, &operrors.EncodingError{EventType: string(e.Type()), Err: err}
	}
	return data, nil
}

// UnmarshalEvent decodes an envelope produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("decode %s envelope: missing payload", env.Type)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeTrack:
		ev, err = decodePayload[Track](env.Payload)
	case TypeIdentify:
		ev, err = decodePayload[Identify](env.Payload)
	case TypeAlias:
		ev, err = decodePayload[Alias](env.Payload)
	case TypeIncrement:
		ev, err = decodePayload[Increment](env.Payload)
	case TypeDecrement:
		ev, err = decodePayload[Decrement](env.Payload)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

func decodePayload[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
