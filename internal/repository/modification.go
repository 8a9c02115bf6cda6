package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

const requestColumns = `
	id, target_model, target_id, change_type, requested_changes, original_values, status,
	requested_by, requested_role, reviewed_by, review_notes, created_at, reviewed_at
`

const pendingIndex = "idx_modification_requests_pending"

func scanRequest(row pgx.Row) (*model.ModificationRequest, error) {
	var (
		r                   model.ModificationRequest
		requested, original []byte
	)
	err := row.Scan(
		&r.ID,
		&r.TargetModel,
		&r.TargetID,
		&r.ChangeType,
		&requested,
		&original,
		&r.Status,
		&r.RequestedBy,
		&r.RequestedRole,
		&r.ReviewedBy,
		&r.ReviewNotes,
		&r.CreatedAt,
		&r.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, storageError("get modification request", err)
	}
	if err := json.Unmarshal(requested, &r.RequestedChanges); err != nil {
		return nil, fmt.Errorf("failed to decode requested changes: %w", err)
	}
	if err := json.Unmarshal(original, &r.OriginalValues); err != nil {
		return nil, fmt.Errorf("failed to decode original values: %w", err)
	}
	return &r, nil
}

// GetModificationRequest retrieves a request by its ID
func (s *Store) GetModificationRequest(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM modification_requests WHERE id = $1`
	return scanRequest(s.db.QueryRow(ctx, query, id))
}

// ListModificationRequests returns requests matching filter, oldest first
func (s *Store) ListModificationRequests(ctx context.Context, filter model.ModificationFilter) ([]model.ModificationRequest, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.TargetModel != "" {
		add("target_model = $%d", filter.TargetModel)
	}
	if filter.TargetID != nil {
		add("target_id = $%d", *filter.TargetID)
	}
	if filter.RequestedBy != nil {
		add("requested_by = $%d", *filter.RequestedBy)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + requestColumns + ` FROM modification_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list modification requests", err)
	}
	defer rows.Close()

	out := []model.ModificationRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list modification requests", err)
	}
	return out, nil
}

// GetModificationRequestForUpdate retrieves a request and locks its row
func (t *tx) GetModificationRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM modification_requests WHERE id = $1 FOR UPDATE`
	return scanRequest(t.q.QueryRow(ctx, query, id))
}

// LockTarget takes a transaction-scoped advisory lock on the target. It
// also serialises creates, where no row exists yet to lock.
func (t *tx) LockTarget(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) error {
	key := string(targetModel) + ":" + targetID.String()
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return storageError("lock target", err)
	}
	return nil
}

// HasPendingModification reports whether the target has an undecided request
func (t *tx) HasPendingModification(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM modification_requests
			WHERE target_model = $1 AND target_id = $2 AND status = 'pending'
		)
	`
	var exists bool
	if err := t.q.QueryRow(ctx, query, targetModel, targetID).Scan(&exists); err != nil {
		return false, storageError("check pending requests", err)
	}
	return exists, nil
}

// CreateModificationRequest inserts a new request. The partial unique index
// rejects a second pending request for the same target.
func (t *tx) CreateModificationRequest(ctx context.Context, r *model.ModificationRequest) error {
	requested, err := json.Marshal(nonNil(r.RequestedChanges))
	if err != nil {
		return fmt.Errorf("failed to encode requested changes: %w", err)
	}
	original, err := json.Marshal(nonNil(r.OriginalValues))
	if err != nil {
		return fmt.Errorf("failed to encode original values: %w", err)
	}

	query := `
		INSERT INTO modification_requests (id, target_model, target_id, change_type, requested_changes,
			original_values, status, requested_by, requested_role, reviewed_by, review_notes, created_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = t.q.Exec(ctx, query,
		r.ID,
		r.TargetModel,
		r.TargetID,
		r.ChangeType,
		requested,
		original,
		r.Status,
		r.RequestedBy,
		r.RequestedRole,
		r.ReviewedBy,
		r.ReviewNotes,
		r.CreatedAt,
		r.ReviewedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == pendingIndex {
			return model.ErrDuplicatePendingRequest
		}
		return storageError("create modification request", err)
	}
	return nil
}

// SaveModificationRequest records a decision on a request
func (t *tx) SaveModificationRequest(ctx context.Context, r *model.ModificationRequest) error {
	query := `
		UPDATE modification_requests
		SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5
		WHERE id = $1
	`
	tag, err := t.q.Exec(ctx, query, r.ID, r.Status, r.ReviewedBy, r.ReviewNotes, r.ReviewedAt)
	if err != nil {
		return storageError("save modification request", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrRequestNotFound
	}
	return nil
}

func nonNil(c model.Changes) model.Changes {
	if c == nil {
		return model.Changes{}
	}
	return c
}
