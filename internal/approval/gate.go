// Package approval implements the maker-checker gate. Protected changes
// proposed by makers are stored as pending modification requests and only
// applied once a different operator approves them.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Result is the outcome of a proposal or decision
type Result struct {
	Request *model.ModificationRequest `json:"request,omitempty"`
	Applied any                        `json:"applied,omitempty"`
	Pending bool                       `json:"pending"`
}

// Config holds gate dependencies
type Config struct {
	Publisher queue.Publisher
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

// Gate routes every protected write through propose and decide
type Gate struct {
	store     store.Store
	policy    Policy
	targets   map[model.TargetModel]Target
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewGate creates a new Gate serving the given targets
func NewGate(s store.Store, policy Policy, cfg Config, targets ...Target) *Gate {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	g := &Gate{
		store:     s,
		policy:    policy,
		targets:   make(map[model.TargetModel]Target, len(targets)),
		publisher: publisher,
		logger:    logging.OrNop(cfg.Logger).Named("approval"),
		metrics:   metrics.OrNoOp(cfg.Metrics),
		now:       time.Now,
	}
	for _, t := range targets {
		g.targets[t.Model()] = t
	}
	return g
}

// Policy returns the gate's policy
func (g *Gate) Policy() Policy {
	return g.policy
}

// Get returns a modification request by id
func (g *Gate) Get(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error) {
	return g.store.GetModificationRequest(ctx, id)
}

// List returns modification requests matching filter
func (g *Gate) List(ctx context.Context, filter model.ModificationFilter) ([]model.ModificationRequest, error) {
	return g.store.ListModificationRequests(ctx, filter)
}

// Propose applies the change directly when the actor may write it,
// otherwise records a pending request without touching the target
func (g *Gate) Propose(ctx context.Context, actor model.Actor, req model.ProposeRequest) (*Result, error) {
	res, events, err := g.propose(ctx, actor, req)

	outcome := metrics.Outcome(model.Code(err))
	if err == nil {
		outcome = "direct"
		if res.Pending {
			outcome = "pending"
		}
	}
	g.metrics.RecordProposal(string(req.TargetModel), outcome)

	if err != nil {
		g.logFailure("proposal", req.TargetModel, req.TargetID, err)
		return nil, err
	}

	g.logger.Info("change proposed",
		zap.String("target_model", string(req.TargetModel)),
		zap.String("change_type", string(req.ChangeType)),
		zap.String("actor_id", actor.ID.String()),
		zap.String("outcome", outcome),
	)
	g.publish(ctx, events)
	return res, nil
}

func (g *Gate) propose(ctx context.Context, actor model.Actor, req model.ProposeRequest) (*Result, []model.Event, error) {
	if !actor.Role.Valid() || actor.ID == uuid.Nil {
		return nil, nil, model.ErrUnauthorized
	}
	target, ok := g.targets[req.TargetModel]
	if !ok {
		return nil, nil, model.ErrUnknownTarget
	}
	if !req.ChangeType.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown change type %q", model.ErrInvalidChange, req.ChangeType)
	}

	m := Mutation{
		TargetID:   req.TargetID,
		ChangeType: req.ChangeType,
		Changes:    req.RequestedChanges,
		Actor:      actor,
	}
	if m.Changes == nil {
		m.Changes = model.Changes{}
	}
	keyed, idempotent := target.(Idempotent)
	if idempotent && m.ChangeType == model.ChangeTypeCreate && m.TargetID == uuid.Nil {
		m.TargetID = keyed.KeyedID(m.Changes)
	}
	switch {
	case m.ChangeType == model.ChangeTypeCreate && m.TargetID == uuid.Nil:
		m.TargetID = uuid.New()
	case m.TargetID == uuid.Nil:
		return nil, nil, fmt.Errorf("%w: target id is required", model.ErrInvalidChange)
	}
	if err := target.Validate(m); err != nil {
		return nil, nil, err
	}

	direct := g.policy.Direct(actor.Role, req.TargetModel, req.ChangeType)

	var (
		res    *Result
		events []model.Event
	)
	err := g.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockTarget(ctx, req.TargetModel, m.TargetID); err != nil {
			return err
		}
		original, err := target.Snapshot(ctx, tx, m)
		if err != nil {
			return err
		}
		if m.ChangeType == model.ChangeTypeUpdate {
			if m.Changes, original, err = diff(m.Changes, original); err != nil {
				return err
			}
		}
		if idempotent && m.ChangeType == model.ChangeTypeCreate {
			prior, found, err := keyed.Replay(ctx, tx, m)
			if err != nil {
				return err
			}
			if found {
				res = &Result{Applied: prior}
				return nil
			}
		}

		if direct {
			applied, err := target.Apply(ctx, tx, m)
			if err != nil {
				return err
			}
			res = &Result{Applied: applied.Result}
			events = applied.Events
			return nil
		}

		pending, err := tx.HasPendingModification(ctx, req.TargetModel, m.TargetID)
		if err != nil {
			return err
		}
		if pending {
			return model.ErrDuplicatePendingRequest
		}

		mr := &model.ModificationRequest{
			ID:               uuid.New(),
			TargetModel:      req.TargetModel,
			TargetID:         m.TargetID,
			ChangeType:       m.ChangeType,
			RequestedChanges: m.Changes,
			OriginalValues:   original,
			Status:           model.RequestStatusPending,
			RequestedBy:      actor.ID,
			RequestedRole:    actor.Role,
			CreatedAt:        g.now().UTC(),
		}
		if err := tx.CreateModificationRequest(ctx, mr); err != nil {
			return err
		}
		res = &Result{Request: mr, Pending: true}
		events = []model.Event{requestEvent(model.EventModificationProposed, mr, actor.ID)}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

// Approve applies a pending request through the same path as a direct write
func (g *Gate) Approve(ctx context.Context, actor model.Actor, requestID uuid.UUID, notes string) (*Result, error) {
	return g.decide(ctx, actor, requestID, true, notes)
}

// Reject closes a pending request without applying it
func (g *Gate) Reject(ctx context.Context, actor model.Actor, requestID uuid.UUID, notes string) (*Result, error) {
	return g.decide(ctx, actor, requestID, false, notes)
}

func (g *Gate) decide(ctx context.Context, actor model.Actor, requestID uuid.UUID, approve bool, notes string) (*Result, error) {
	decision := "reject"
	if approve {
		decision = "approve"
	}

	var (
		res    *Result
		events []model.Event
		target model.TargetModel
	)
	err := g.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		mr, err := tx.GetModificationRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		target = mr.TargetModel
		if !mr.IsPending() {
			return model.ErrRequestNotPending
		}
		if !g.policy.CanReview(actor.Role) || mr.RequestedBy == actor.ID {
			return model.ErrUnauthorized
		}

		res = &Result{Request: mr}
		if approve {
			applied, err := g.applyRequest(ctx, tx, actor, mr)
			if err != nil {
				return err
			}
			res.Applied = applied.Result
			mr.Status = model.RequestStatusApproved
			events = append([]model.Event{requestEvent(model.EventModificationApproved, mr, actor.ID)}, applied.Events...)
		} else {
			mr.Status = model.RequestStatusRejected
			events = []model.Event{requestEvent(model.EventModificationRejected, mr, actor.ID)}
		}

		reviewedAt := g.now().UTC()
		mr.ReviewedBy = &actor.ID
		mr.ReviewNotes = notes
		mr.ReviewedAt = &reviewedAt
		return tx.SaveModificationRequest(ctx, mr)
	})

	g.metrics.RecordDecision(string(target), decision, metrics.Outcome(model.Code(err)))
	if err != nil {
		g.logFailure(decision, target, requestID, err)
		return nil, err
	}

	g.logger.Info("request decided",
		zap.String("request_id", requestID.String()),
		zap.String("decision", decision),
		zap.String("reviewer_id", actor.ID.String()),
	)
	g.publish(ctx, events)
	return res, nil
}

func (g *Gate) applyRequest(ctx context.Context, tx store.Tx, actor model.Actor, mr *model.ModificationRequest) (Applied, error) {
	target, ok := g.targets[mr.TargetModel]
	if !ok {
		return Applied{}, model.ErrUnknownTarget
	}
	m := Mutation{
		TargetID:   mr.TargetID,
		ChangeType: mr.ChangeType,
		Changes:    mr.RequestedChanges,
		Actor:      actor,
		RequestID:  &mr.ID,
	}
	if err := target.Validate(m); err != nil {
		return Applied{}, err
	}
	if err := tx.LockTarget(ctx, mr.TargetModel, mr.TargetID); err != nil {
		return Applied{}, err
	}

	current, err := target.Snapshot(ctx, tx, m)
	if err != nil {
		return Applied{}, err
	}
	for _, k := range mr.OriginalValues.Keys() {
		if !current.Equal(mr.OriginalValues, k) {
			return Applied{}, fmt.Errorf("%w: %q changed", model.ErrStaleRequest, k)
		}
	}
	return target.Apply(ctx, tx, m)
}

// diff drops requested keys whose value already matches the stored one.
// At least one snapshotted field must remain.
func diff(requested, original model.Changes) (model.Changes, model.Changes, error) {
	kept := model.Changes{}
	changed := model.Changes{}
	for k, v := range requested {
		if original.Has(k) {
			if original.Equal(requested, k) {
				continue
			}
			changed[k] = original[k]
		}
		kept[k] = v
	}
	if len(changed) == 0 {
		return nil, nil, fmt.Errorf("%w: nothing to change", model.ErrInvalidChange)
	}
	return kept, changed, nil
}

func (g *Gate) publish(ctx context.Context, events []model.Event) {
	for _, e := range events {
		if err := g.publisher.Publish(ctx, e); err != nil {
			g.logger.Warn("failed to publish event",
				zap.String("type", string(e.Type)),
				zap.String("entity_id", e.EntityID.String()),
				zap.Error(err),
			)
		}
	}
}

func (g *Gate) logFailure(action string, target model.TargetModel, id uuid.UUID, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("target_model", string(target)),
		zap.String("id", id.String()),
		zap.String("code", model.Code(err)),
		zap.Error(err),
	}
	if model.IsDomainError(err) {
		g.logger.Debug("approval rejected", fields...)
		return
	}
	g.logger.Error("approval failed", fields...)
}

func requestEvent(t model.EventType, mr *model.ModificationRequest, actorID uuid.UUID) model.Event {
	return model.NewEvent(t, mr.ID, actorID, map[string]string{
		"target_model": string(mr.TargetModel),
		"target_id":    mr.TargetID.String(),
		"change_type":  string(mr.ChangeType),
		"requested_by": mr.RequestedBy.String(),
	})
}
