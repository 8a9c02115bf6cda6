package approval

import (
	"context"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Mutation is one change routed through the gate
type Mutation struct {
	TargetID   uuid.UUID
	ChangeType model.ChangeType
	Changes    model.Changes
	Actor      model.Actor
	// RequestID is set when the mutation comes from an approved request
	RequestID *uuid.UUID
}

// Applied is the outcome of a mutation
type Applied struct {
	Result any
	// Events are published once the unit of work has committed
	Events []model.Event
}

// Target adapts one entity type to the gate. Direct writes and approvals
// both end in Apply.
type Target interface {
	Model() model.TargetModel
	// Validate checks the shape of a mutation without touching storage
	Validate(m Mutation) error
	// Snapshot locks the target and returns the stored values of the fields
	// m touches. Keys it does not return are parameters and are never diffed.
	Snapshot(ctx context.Context, tx store.Tx, m Mutation) (model.Changes, error)
	Apply(ctx context.Context, tx store.Tx, m Mutation) (Applied, error)
}

// Idempotent is implemented by targets whose creations carry a client key.
// The gate derives the target id from the key, so a retried proposal meets
// the pending request, and asks Replay for the outcome of one already applied.
type Idempotent interface {
	// KeyedID returns the target id for the key in c, or uuid.Nil without one
	KeyedID(c model.Changes) uuid.UUID
	Replay(ctx context.Context, tx store.Tx, m Mutation) (result any, found bool, err error)
}

func pick(all model.Changes, keys []string) model.Changes {
	out := model.Changes{}
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}

func optionalUUID(c model.Changes, key string) (*uuid.UUID, error) {
	if !c.Has(key) {
		return nil, nil
	}
	id, err := c.UUID(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalString(c model.Changes, key string) (string, error) {
	if !c.Has(key) {
		return "", nil
	}
	return c.String(key)
}
