package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event emitted after commit
type EventType string

const (
	EventModificationProposed EventType = "modification.proposed"
	EventModificationApproved EventType = "modification.approved"
	EventModificationRejected EventType = "modification.rejected"
	EventIPOSubmitted         EventType = "ipo.submitted"
	EventIPOAllotted          EventType = "ipo.allotted"
	EventIPORejected          EventType = "ipo.rejected"
	EventProfitDistributed    EventType = "profit.distributed"
)

// Event is published to the event backend once the owning unit of work committed
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	ActorID    uuid.UUID         `json:"actor_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent creates an event stamped with a fresh id and the current time
func NewEvent(t EventType, entityID, actorID uuid.UUID, attrs map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		EntityID:   entityID,
		ActorID:    actorID,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}
