package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type names a migration lifecycle event
type Type string

const (
	TypeApplied    Type = "migration.applied"
	TypeSkipped    Type = "migration.skipped"
	TypeFailed     Type = "migration.failed"
	TypeRolledBack Type = "migration.rolled_back"
	TypeManual     Type = "migration.manual_required"
)

// Event describes something that happened to a migration file
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Filename   string    `json:"filename"`
	Statements int       `json:"statements,omitempty"`
	Tables     []string  `json:"tables,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExecutedBy string    `json:"executed_by,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(t Type, filename string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Filename:  filename,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers migration events to a broker
type Publisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event *Event) error

	// Close releases the broker connection
	Close() error
}

// ErrDisabled is returned when a subscriber is requested but no broker is configured
var ErrDisabled = errors.New("events are disabled")

// Handler processes one received event. A returned error is logged and, where
// the broker supports it, the message is redelivered.
type Handler func(ctx context.Context, event *Event) error

// Subscriber receives migration events published by other agents
type Subscriber interface {
	// Subscribe calls handler for every event until ctx is done or the
	// broker connection fails
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases the broker connection
	Close() error
}

// ChangesSchema reports whether the event means the database schema changed
func (e *Event) ChangesSchema() bool {
	return e.Type == TypeApplied || e.Type == TypeRolledBack
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, *Event) error { return nil }
func (Noop) Close() error                          { return nil }
