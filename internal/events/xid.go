// Package events provides identifiers, event names, payloads and the
// notification boundary for the review pipeline.
package events

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// XID provides globally unique, sortable identifiers.
// Format: 20 characters, base32-hex encoded, 12 bytes
// Structure:
//   - 4 bytes: timestamp (seconds since Unix epoch)
//   - 3 bytes: machine identifier
//   - 2 bytes: process identifier
//   - 3 bytes: random counter

// ReviewID identifies one run of the review pipeline.
type ReviewID struct {
	id xid.ID
}

// NewReviewID generates a new review ID.
func NewReviewID() ReviewID {
	return ReviewID{id: xid.New()}
}

// ParseReviewID parses a review ID from string.
func ParseReviewID(s string) (ReviewID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return ReviewID{}, fmt.Errorf("invalid review ID %q: %w", s, err)
	}
	return ReviewID{id: id}, nil
}

// String returns the string representation.
func (r ReviewID) String() string {
	return r.id.String()
}

// Short returns the first 8 characters for human-readable contexts.
func (r ReviewID) Short() string {
	s := r.id.String()
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

// Time returns the timestamp embedded in the ID.
func (r ReviewID) Time() time.Time {
	return r.id.Time()
}

// IsZero returns true if this is the zero value.
func (r ReviewID) IsZero() bool {
	return r.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (r ReviewID) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(r.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ReviewID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		r.id = xid.NilID()
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	r.id = id
	return nil
}

// Value implements driver.Valuer so the ID can be stored as a column.
func (r ReviewID) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil //nolint:nilnil // NULL column for the zero ID
	}
	return r.id.String(), nil
}

// Scan implements sql.Scanner.
func (r *ReviewID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		r.id = xid.NilID()
		return nil
	case string:
		return r.scanString(v)
	case []byte:
		return r.scanString(string(v))
	default:
		return fmt.Errorf("unsupported review ID column type %T", value)
	}
}

func (r *ReviewID) scanString(s string) error {
	id, err := xid.FromString(s)
	if err != nil {
		return fmt.Errorf("invalid review ID %q: %w", s, err)
	}
	r.id = id
	return nil
}

// EventID represents an event identifier.
type EventID struct {
	id xid.ID
}

// NewEventID generates a new event ID.
func NewEventID() EventID {
	return EventID{id: xid.New()}
}

// ParseEventID parses an event ID from string.
func ParseEventID(s string) (EventID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return EventID{}, fmt.Errorf("invalid event ID %q: %w", s, err)
	}
	return EventID{id: id}, nil
}

// String returns the string representation.
func (e EventID) String() string {
	return e.id.String()
}

// IsZero returns true if this is the zero value.
func (e EventID) IsZero() bool {
	return e.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (e EventID) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(e.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		e.id = xid.NilID()
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// NewRecordID returns a fresh sortable identifier for persisted records
// such as issues and routing decisions.
func NewRecordID() string {
	return xid.New().String()
}
