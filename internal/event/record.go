// Package event defines the event records accepted by the aggregator and
// the decoding rules applied at the ingestion boundary.
package event

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Key is the dedup identity of an event.
type Key struct {
	Topic   string
	EventID string
}

func (k Key) String() string {
	return k.Topic + "/" + k.EventID
}

// Payload is an opaque JSON object kept byte-for-byte as submitted.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return errors.New("event.Payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[:0], data...)
	return nil
}

// IsObject reports whether the payload is a syntactically valid JSON object.
func (p Payload) IsObject() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// Map decodes the payload for expression evaluation.
func (p Payload) Map() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(p) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(p, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// Record is a validated event as it travels through the intake queue.
type Record struct {
	Topic     string    `json:"topic"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   Payload   `json:"payload"`
}

func (r Record) Key() Key {
	return Key{Topic: r.Topic, EventID: r.EventID}
}

// Stored is a record as persisted by the identity store.
type Stored struct {
	Record
	ReceivedAt time.Time `json:"received_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 date-times with an optional offset. A
// trailing Z means UTC; values without an offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO8601 timestamp format: %q", s)
}
