// ABOUTME: Domain event contract consumed by the envelope factory
// ABOUTME: Base event type that business events can embed

package envelope

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is implemented by business-layer events published through
// Factory.FromEvent. Aggregate and routing accessors may return empty strings;
// the factory derives a routing key when none is supplied.
type DomainEvent interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	Version() int
	AggregateID() string
	AggregateType() string
	RoutingKey() string
}

// BaseEvent is a ready-made DomainEvent implementation for embedding.
type BaseEvent struct {
	ID      string
	Type    string
	At      time.Time
	Ver     int
	AggID   string
	AggType string
	Routing string
}

// NewBaseEvent returns a BaseEvent with a fresh event ID, the current time,
// and version 1.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:   uuid.New().String(),
		Type: eventType,
		At:   time.Now().UTC(),
		Ver:  1,
	}
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) Version() int          { return e.Ver }
func (e BaseEvent) AggregateID() string   { return e.AggID }
func (e BaseEvent) AggregateType() string { return e.AggType }
func (e BaseEvent) RoutingKey() string    { return e.Routing }
