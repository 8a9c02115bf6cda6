package model

import (
	"time"

	"github.com/google/uuid"
)

// TargetModel names an entity guarded by the approval gate
type TargetModel string

const (
	TargetAccount         TargetModel = "Account"
	TargetIPOApplication  TargetModel = "IPOApplication"
	TargetLedgerOperation TargetModel = "LedgerOperation"
)

// ChangeType is the kind of mutation a request carries
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// Valid reports whether c is a known change type
func (c ChangeType) Valid() bool {
	return c == ChangeTypeCreate || c == ChangeTypeUpdate || c == ChangeTypeDelete
}

// RequestStatus is the lifecycle state of a modification request
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// ModificationRequest is a proposed change awaiting a checker decision.
// It is mutated once by the decision and never deleted.
type ModificationRequest struct {
	ID               uuid.UUID     `json:"id"`
	TargetModel      TargetModel   `json:"target_model"`
	TargetID         uuid.UUID     `json:"target_id"`
	ChangeType       ChangeType    `json:"change_type"`
	RequestedChanges Changes       `json:"requested_changes"`
	OriginalValues   Changes       `json:"original_values,omitempty"`
	Status           RequestStatus `json:"status"`
	RequestedBy      uuid.UUID     `json:"requested_by"`
	RequestedRole    Role          `json:"requested_role"`
	ReviewedBy       *uuid.UUID    `json:"reviewed_by,omitempty"`
	ReviewNotes      string        `json:"review_notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty"`
}

// IsPending returns true while the request awaits a decision
func (m *ModificationRequest) IsPending() bool {
	return m.Status == RequestStatusPending
}

// ModificationFilter narrows a listing of modification requests
type ModificationFilter struct {
	Status      RequestStatus
	TargetModel TargetModel
	TargetID    *uuid.UUID
	RequestedBy *uuid.UUID
	Limit       int
}

// ProposeRequest is the payload for a generic change proposal
type ProposeRequest struct {
	TargetModel      TargetModel `json:"target_model"`
	TargetID         uuid.UUID   `json:"target_id"`
	ChangeType       ChangeType  `json:"change_type"`
	RequestedChanges Changes     `json:"requested_changes"`
}

// DecisionRequest is the payload for approving or rejecting a request
type DecisionRequest struct {
	Notes string `json:"notes,omitempty"`
}
